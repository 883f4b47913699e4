package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/hostelhub/notifyrouter/internal/shared/config"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// EntryEventType is the event type journal entries are stored under
const EntryEventType = "RoutingAuditEntry"

// KurrentDBJournal appends entries to a KurrentDB (EventStoreDB) stream.
// The stream is append-only, so the chain cannot be rewritten in place.
type KurrentDBJournal struct {
	chain
	client *esdb.Client
	stream string
}

// NewKurrentDBJournal connects to KurrentDB and loads the chain tail
func NewKurrentDBJournal(ctx context.Context, cfg config.KurrentDBConfig) (*KurrentDBJournal, error) {
	settings, err := esdb.ParseConnectionString(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	j := &KurrentDBJournal{client: client, stream: cfg.Stream}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := j.Initialize(initCtx); err != nil {
		client.Close()
		return nil, err
	}
	return j, nil
}

// Initialize reads the last entry of the stream to resume the chain
func (j *KurrentDBJournal) Initialize(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	stream, err := j.client.ReadStream(ctx, j.stream, opts, 1)
	if err != nil {
		if isStreamNotFound(err) {
			j.lastHash, j.sequence = "", 0
			return nil
		}
		return errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) || isStreamNotFound(err) {
			j.lastHash, j.sequence = "", 0
			return nil
		}
		return errors.Wrap(err, "failed to read audit stream tail")
	}

	if event.Event != nil && event.Event.EventType == EntryEventType {
		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			return errors.Wrap(err, "failed to decode audit stream tail")
		}
		j.lastHash = entry.Hash
		j.sequence = entry.Sequence
	}
	return nil
}

// Record links and appends an entry
func (j *KurrentDBJournal) Record(ctx context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.link(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		j.rollback()
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	eventData := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   EntryEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata: []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s","notification_id":%q}`,
			entry.Sequence, entry.Hash, entry.NotificationID)),
	}

	if _, err := j.client.AppendToStream(ctx, j.stream, esdb.AppendToStreamOptions{}, eventData); err != nil {
		j.rollback()
		return errors.Wrap(err, "failed to append audit entry")
	}

	j.commit(entry)
	return nil
}

// ReadAll reads up to limit entries in append order
func (j *KurrentDBJournal) ReadAll(ctx context.Context, limit uint64) ([]*Entry, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Forwards,
		From:      esdb.Start{},
	}

	stream, err := j.client.ReadStream(ctx, j.stream, opts, limit)
	if err != nil {
		if isStreamNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	return decodeEntries(stream.Recv)
}

// decodeEntries drains a read stream. Only io.EOF ends it normally; a missing
// stream reads as empty and any other receive failure is returned.
func decodeEntries(recv func() (*esdb.ResolvedEvent, error)) ([]*Entry, error) {
	var entries []*Entry
	for {
		event, err := recv()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			if isStreamNotFound(err) {
				return nil, nil
			}
			return nil, errors.Wrap(err, "failed to read audit stream")
		}
		if event.Event == nil || event.Event.EventType != EntryEventType {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(event.Event.Data, &entry); err != nil {
			return nil, errors.Wrap(err, "failed to decode audit entry")
		}
		entries = append(entries, &entry)
	}
}

// Close closes the client connection
func (j *KurrentDBJournal) Close() error {
	return j.client.Close()
}

func isStreamNotFound(err error) bool {
	if esdbErr, ok := esdb.FromError(err); !ok {
		return esdbErr.Code() == esdb.ErrorCodeResourceNotFound
	}
	return false
}
