package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/quillhq/quill/internal/port/cache"
)

// Directory is the per-user registry of known entity names.
type Directory interface {
	// Names returns the user's entity names mapped to entity IDs.
	Names(ctx context.Context, userID string) (map[string]string, error)

	// Summary returns the one-hop context summary for an entity.
	Summary(ctx context.Context, userID, entityID string) (string, error)
}

// EntityResolver performs the synchronous pre-pass: scan a message for
// known entity names and collect their context summaries. It is bounded
// by registry size and never calls the model.
type EntityResolver struct {
	dir   Directory
	cache cache.Cache
	ttl   time.Duration
}

// NewEntityResolver creates the resolver. c may be nil to skip caching.
func NewEntityResolver(dir Directory, c cache.Cache, ttl time.Duration) *EntityResolver {
	return &EntityResolver{dir: dir, cache: c, ttl: ttl}
}

// ContextFor returns context summaries for every known entity name
// mentioned in the message, exact or possessive ("Mara", "Mara's").
// Failures degrade to fewer summaries; the pre-pass never errors out.
func (r *EntityResolver) ContextFor(ctx context.Context, userID, message string) []string {
	names, err := r.dir.Names(ctx, userID)
	if err != nil {
		slog.Warn("entity pre-pass: names lookup failed", "error", err)
		return nil
	}
	if len(names) == 0 {
		return nil
	}

	// Index names by lowercased form for token matching.
	byToken := make(map[string]string, len(names))
	for name, id := range names {
		byToken[strings.ToLower(name)] = id
	}

	seen := make(map[string]bool)
	var summaries []string
	collect := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if summary := r.summary(ctx, userID, id); summary != "" {
			summaries = append(summaries, summary)
		}
	}

	for _, word := range messageWords(message) {
		if id, ok := byToken[word]; ok {
			collect(id)
		}
	}

	// Multi-word names can't match single tokens; fall back to a
	// substring scan for those.
	lowerMsg := strings.ToLower(message)
	for name, id := range byToken {
		if strings.Contains(name, " ") && strings.Contains(lowerMsg, name) {
			collect(id)
		}
	}
	return summaries
}

// summary fetches an entity summary, going through the cache when one is
// wired.
func (r *EntityResolver) summary(ctx context.Context, userID, entityID string) string {
	key := "entity:" + userID + ":" + entityID

	if r.cache != nil {
		if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return string(data)
		}
	}

	summary, err := r.dir.Summary(ctx, userID, entityID)
	if err != nil {
		slog.Warn("entity pre-pass: summary lookup failed",
			"entity_id", entityID, "error", err)
		return ""
	}

	if r.cache != nil && summary != "" {
		if err := r.cache.Set(ctx, key, []byte(summary), r.ttl); err != nil {
			slog.Debug("entity summary cache set failed", "error", err)
		}
	}
	return summary
}

// messageWords lowercases and tokenizes a message, stripping possessive
// suffixes so "Mara's" matches the registered name "Mara".
func messageWords(message string) []string {
	fields := strings.FieldsFunc(message, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		w = strings.TrimSuffix(w, "'s")
		w = strings.TrimSuffix(w, "’s")
		w = strings.Trim(w, "'’")
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}
