// Package ingest consumes the content platform's event firehose over
// WebSocket and applies the decoded events to the candidate content
// store and the social graph. It tracks a resume cursor so a restarted
// worker picks up where it left off, and records applied-event keys so
// replayed frames are never double-applied.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/feedmixer/internal/content"
	"github.com/onnwee/feedmixer/internal/idempotency"
	"github.com/onnwee/feedmixer/internal/social"
)

// Processor applies validated firehose events to the backing stores.
type Processor struct {
	store   content.Store
	graph   social.Writer
	tracker SequenceTracker
	applied idempotency.Repository
	metrics *Metrics
	logger  *slog.Logger
}

// ProcessorConfig carries the collaborators for a Processor.
type ProcessorConfig struct {
	// Store receives content item writes. Required.
	Store content.Store

	// Graph receives social graph writes. Required.
	Graph social.Writer

	// Tracker persists the resume cursor. Defaults to an in-memory
	// tracker, which loses the cursor on restart.
	Tracker SequenceTracker

	// Applied records processed event keys for duplicate suppression.
	// Defaults to an in-memory repository.
	Applied idempotency.Repository

	// Metrics records ingest activity. Defaults to a fresh unregistered
	// instance.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewProcessor creates a Processor from the given collaborators.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("content store is required")
	case cfg.Graph == nil:
		return nil, errors.New("graph writer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewInMemorySequenceTracker(cfg.Logger)
	}
	if cfg.Applied == nil {
		cfg.Applied = idempotency.NewInMemoryRepository()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	return &Processor{
		store:   cfg.Store,
		graph:   cfg.Graph,
		tracker: cfg.Tracker,
		applied: cfg.Applied,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// Handler returns a MessageHandler bound to ctx, for wiring the
// processor to a Client.
func (p *Processor) Handler(ctx context.Context) MessageHandler {
	return func(messageType int, payload []byte) error {
		return p.Process(ctx, payload)
	}
}

// Process decodes and applies one firehose frame.
//
// Malformed frames are counted and dropped rather than returned as
// errors: an error return makes the client disconnect and replay, which
// would wedge the stream on a poison frame. Store and graph failures ARE
// returned, so the client reconnects and the upstream replays from the
// persisted cursor.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	start := time.Now()
	p.metrics.IncMessagesProcessed()

	ev, err := ParseEvent(payload)
	if err != nil {
		p.metrics.IncMessagesError()
		p.logger.Warn("dropping undecodable firehose frame",
			slog.String("error", err.Error()))
		return nil
	}

	key := ev.Key()
	if _, err := p.applied.Get(ctx, key); err == nil {
		p.metrics.IncDuplicatesSkipped()
		p.logger.Debug("skipping replayed event",
			slog.String("kind", ev.Kind),
			slog.Int64("seq", ev.Seq))
		return p.advanceCursor(ctx, ev.Seq)
	} else if !errors.Is(err, idempotency.ErrKeyNotFound) {
		p.metrics.IncMessagesError()
		return fmt.Errorf("failed to check applied-event key: %w", err)
	}

	if err := p.apply(ctx, ev); err != nil {
		p.metrics.IncMessagesError()
		return fmt.Errorf("failed to apply %s event at seq %d: %w", ev.Kind, ev.Seq, err)
	}

	record := &idempotency.AppliedEvent{
		Key:       key,
		Kind:      ev.Kind,
		Operation: ev.Operation(),
		Seq:       ev.Seq,
	}
	if err := p.applied.Store(ctx, record); err != nil && !errors.Is(err, idempotency.ErrKeyExists) {
		// The write already landed; disconnecting here would replay it.
		// A missed key only narrows the window in which a future replay
		// of this one event is suppressed.
		p.logger.Warn("failed to record applied event",
			slog.String("error", err.Error()),
			slog.Int64("seq", ev.Seq))
	}

	p.metrics.IncEventsApplied(ev.Kind)
	p.metrics.ObserveApplyLatency(time.Since(start).Seconds())
	return p.advanceCursor(ctx, ev.Seq)
}

// advanceCursor persists the resume position after a frame is handled.
func (p *Processor) advanceCursor(ctx context.Context, seq int64) error {
	if err := p.tracker.UpdateSequence(ctx, seq); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// apply routes the event to the store or graph write it describes.
func (p *Processor) apply(ctx context.Context, ev *ParsedEvent) error {
	switch ev.Kind {
	case KindContent:
		return p.applyContent(ctx, ev.Content)
	case KindReaction:
		return p.applyReaction(ctx, ev.Reaction)
	case KindGraph:
		return p.applyGraph(ctx, ev.Graph)
	default:
		// ParseEvent only emits known kinds.
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
}

func (p *Processor) applyContent(ctx context.Context, ev *ContentEvent) error {
	switch ev.Operation {
	case OpCreate, OpUpdate:
		return p.store.Upsert(ctx, ev.Item())
	case OpDelete:
		err := p.store.Delete(ctx, ev.ID)
		if errors.Is(err, content.ErrItemNotFound) {
			// Deleting an item we never ingested is not a failure.
			p.logger.Debug("delete for unknown item", slog.String("item_id", ev.ID))
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, ev.Operation)
	}
}

func (p *Processor) applyReaction(ctx context.Context, ev *ReactionEvent) error {
	err := p.store.AddLikes(ctx, ev.ItemID, ev.Delta)
	if errors.Is(err, content.ErrItemNotFound) {
		// Reactions can outlive their item, or reference one that was
		// pruned before we saw it.
		p.logger.Debug("reaction for unknown item", slog.String("item_id", ev.ItemID))
		return nil
	}
	return err
}

func (p *Processor) applyGraph(ctx context.Context, ev *GraphEvent) error {
	switch ev.Action {
	case ActionFollow:
		return p.graph.AddConnection(ctx, ev.UserID, ev.OtherID)
	case ActionUnfollow:
		return p.graph.RemoveConnection(ctx, ev.UserID, ev.OtherID)
	case ActionJoinCommunity:
		return p.graph.JoinCommunity(ctx, ev.UserID, ev.CommunityID)
	case ActionLeaveCommunity:
		return p.graph.LeaveCommunity(ctx, ev.UserID, ev.CommunityID)
	case ActionSetInterests:
		return p.graph.SetInterests(ctx, ev.UserID, ev.Interests)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}
}
