package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/quillhq/quill/internal/domain/event"
	"github.com/quillhq/quill/internal/port/stream"
)

// groupAckWait is how long a fetched entry stays claimed by a group
// consumer before the server redelivers it to another member.
const groupAckWait = 30 * time.Second

// fetchWait bounds how long Read/ReadGroup block waiting for entries.
const fetchWait = 2 * time.Second

// Stream implements stream.Stream on the QUILL_EVENTS JetStream stream.
// Stream IDs are the server-assigned stream sequence numbers, so append
// order and ID order coincide.
type Stream struct {
	conn *Conn

	// pending tracks fetched-but-unacked messages per group so Ack can
	// resolve a stream ID back to the message handle.
	mu      sync.Mutex
	pending map[string]map[string]jetstream.Msg // group → streamID → msg
}

// NewStream creates the event stream adapter on an established connection.
func NewStream(conn *Conn) *Stream {
	return &Stream{
		conn:    conn,
		pending: make(map[string]map[string]jetstream.Msg),
	}
}

// Publish durably appends an event and returns its stream ID.
func (s *Stream) Publish(ctx context.Context, ev *event.Event) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	ack, err := s.conn.js.Publish(ctx, eventSubject, data)
	if err != nil {
		return "", fmt.Errorf("publish event %s: %w", ev.Type, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Read tails the stream non-destructively with an ephemeral consumer.
// lastID "" reads from the start, "$" returns the newest entry, and a
// numeric ID reads entries appended after that position.
func (s *Stream) Read(ctx context.Context, lastID string, count int) ([]stream.Entry, error) {
	cfg := jetstream.ConsumerConfig{
		FilterSubject:     eventSubject,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: time.Minute,
	}

	switch lastID {
	case "":
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	case "$":
		cfg.DeliverPolicy = jetstream.DeliverLastPolicy
	default:
		seq, err := strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stream id %q: %w", lastID, err)
		}
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = seq + 1
	}

	cons, err := s.conn.js.CreateOrUpdateConsumer(ctx, eventStreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("tail consumer create: %w", err)
	}

	return fetchEntries(cons, count)
}

// CreateGroup creates a durable consumer group. Already-existing groups
// are not an error; any other failure propagates.
func (s *Stream) CreateGroup(ctx context.Context, group string) error {
	_, err := s.conn.js.CreateConsumer(ctx, eventStreamName, jetstream.ConsumerConfig{
		Durable:       group,
		FilterSubject: eventSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       groupAckWait,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrConsumerExists) {
			return nil
		}
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

// ReadGroup fetches up to count entries not yet claimed by another member
// of the group. Fetched entries stay pending until Ack; if the ack wait
// lapses the server redelivers them to the group.
func (s *Stream) ReadGroup(ctx context.Context, group, consumer string, count int) ([]stream.Entry, error) {
	cons, err := s.conn.js.Consumer(ctx, eventStreamName, group)
	if err != nil {
		return nil, fmt.Errorf("group %s lookup: %w", group, err)
	}

	batch, err := cons.Fetch(count, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, fmt.Errorf("group %s fetch: %w", group, err)
	}

	var entries []stream.Entry
	for msg := range batch.Messages() {
		entry, id, err := decodeEntry(msg)
		if err != nil {
			slog.Error("skipping undecodable stream entry",
				"group", group, "consumer", consumer, "error", err)
			_ = msg.TermWithReason("undecodable payload")
			continue
		}

		s.mu.Lock()
		if s.pending[group] == nil {
			s.pending[group] = make(map[string]jetstream.Msg)
		}
		s.pending[group][id] = msg
		s.mu.Unlock()

		entries = append(entries, entry)
	}
	if err := batch.Error(); err != nil {
		return entries, fmt.Errorf("group %s batch: %w", group, err)
	}
	return entries, nil
}

// Ack marks an entry as processed by the group.
func (s *Stream) Ack(_ context.Context, group, streamID string) error {
	s.mu.Lock()
	msg, ok := s.pending[group][streamID]
	if ok {
		delete(s.pending[group], streamID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("ack %s/%s: entry not pending in this process", group, streamID)
	}
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("ack %s/%s: %w", group, streamID, err)
	}
	return nil
}

// fetchEntries drains one fetch batch into entries.
func fetchEntries(cons jetstream.Consumer, count int) ([]stream.Entry, error) {
	batch, err := cons.Fetch(count, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var entries []stream.Entry
	for msg := range batch.Messages() {
		entry, _, err := decodeEntry(msg)
		if err != nil {
			slog.Error("skipping undecodable stream entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := batch.Error(); err != nil {
		return entries, fmt.Errorf("batch: %w", err)
	}
	return entries, nil
}

// decodeEntry unmarshals a stream message and derives its stream ID from
// the server-assigned stream sequence.
func decodeEntry(msg jetstream.Msg) (stream.Entry, string, error) {
	var ev event.Event
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		return stream.Entry{}, "", fmt.Errorf("unmarshal event: %w", err)
	}

	md, err := msg.Metadata()
	if err != nil {
		return stream.Entry{}, "", fmt.Errorf("message metadata: %w", err)
	}

	id := strconv.FormatUint(md.Sequence.Stream, 10)
	return stream.Entry{StreamID: id, Event: ev}, id, nil
}
