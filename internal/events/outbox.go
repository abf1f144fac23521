package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Event is a versioned domain event.
type Event interface {
	EventType() string
}

// Envelope is the serialized form stored in the outbox and handed to transports.
type Envelope struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

var nowFunc = time.Now

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Append writes evt to the outbox through exec. Pass the transaction that made
// the state change so the event commits or rolls back with it.
func Append(ctx context.Context, exec execer, aggregateID string, evt Event) (Envelope, error) {
	if exec == nil {
		return Envelope{}, errors.New("events: exec required")
	}
	if evt == nil {
		return Envelope{}, errors.New("events: event required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return Envelope{}, errors.New("events: aggregate id required")
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, errors.New("events: event type missing")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal event: %w", err)
	}
	env := Envelope{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  nowFunc().UTC(),
		Data:        data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO outbox (id, aggregate_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := exec.Exec(ctx, query, env.ID, env.AggregateID, env.Type, payload); err != nil {
		return Envelope{}, fmt.Errorf("events: insert outbox: %w", err)
	}
	return env, nil
}

// OutboxEntry is an undelivered outbox row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	Type        string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Envelope decodes the stored payload.
func (e OutboxEntry) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope %s: %w", e.ID, err)
	}
	return env, nil
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// deliveryReceipts remembers which handler already took which entry.
// *ProcessedStore satisfies it.
type deliveryReceipts interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	Claim(ctx context.Context, provider, eventID string) (bool, error)
}

type namedHandler struct {
	name    string
	handler DeliveryHandler
}

// FanOut delivers each entry to every handler. The entry counts as delivered
// only when all handlers succeed. With receipts, a handler that succeeded is
// skipped when the entry is redelivered after another handler failed.
type FanOut struct {
	handlers []namedHandler
	receipts deliveryReceipts
	logger   *logging.Logger
}

// NewFanOut returns an empty FanOut. receipts may be nil, in which case every
// redelivery reaches every handler again.
func NewFanOut(receipts deliveryReceipts, logger *logging.Logger) *FanOut {
	if logger == nil {
		logger = logging.Default()
	}
	return &FanOut{receipts: receipts, logger: logger}
}

// Add registers h under name. The name keys its receipts, so keep it stable.
func (f *FanOut) Add(name string, h DeliveryHandler) *FanOut {
	if h != nil {
		f.handlers = append(f.handlers, namedHandler{name: name, handler: h})
	}
	return f
}

func (f *FanOut) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, nh := range f.handlers {
		key := "outbox:" + nh.name
		if f.receipts != nil {
			done, err := f.receipts.AlreadyProcessed(ctx, key, entry.ID.String())
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", nh.name, err))
				continue
			}
			if done {
				continue
			}
		}
		if err := nh.handler.Handle(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nh.name, err))
			continue
		}
		if f.receipts != nil {
			// A lost receipt only costs a repeat if the entry is redelivered.
			if _, err := f.receipts.Claim(ctx, key, entry.ID.String()); err != nil {
				f.logger.Warn("outbox receipt not recorded", "handler", nh.name, "outbox_id", entry.ID, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

type outboxQuerier interface {
	execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore persists events for reliable delivery.
type OutboxStore struct {
	db outboxQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{db: pool}
}

func newOutboxStoreWithExec(q outboxQuerier) *OutboxStore {
	return &OutboxStore{db: q}
}

// Insert appends evt outside any caller transaction.
func (s *OutboxStore) Insert(ctx context.Context, aggregateID string, evt Event) (uuid.UUID, error) {
	env, err := Append(ctx, s.db, aggregateID, evt)
	if err != nil {
		return uuid.Nil, err
	}
	return env.ID, nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, type, payload, created_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.Type, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

type pendingSource interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store     pendingSource
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	var src pendingSource
	if store != nil {
		src = store
	}
	return newDeliverer(src, handler, logger)
}

func newDeliverer(store pendingSource, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start blocks, draining the outbox every interval until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain delivers one batch and returns how many entries were marked delivered.
func (d *Deliverer) drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}
