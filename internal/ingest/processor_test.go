package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/feedmixer/internal/content"
	"github.com/onnwee/feedmixer/internal/idempotency"
	"github.com/onnwee/feedmixer/internal/social"
)

// testProcessor bundles a processor with the fakes behind it so tests
// can assert on applied state.
type testProcessor struct {
	proc    *Processor
	store   *content.InMemoryStore
	graph   *social.MemoryGraph
	tracker *InMemorySequenceTracker
	applied *idempotency.InMemoryRepository
	metrics *Metrics
}

func newTestProcessor(t *testing.T) *testProcessor {
	t.Helper()

	tp := &testProcessor{
		store:   content.NewInMemoryStore(),
		graph:   social.NewMemoryGraph(),
		tracker: NewInMemorySequenceTracker(newTestLogger()),
		applied: idempotency.NewInMemoryRepository(),
		metrics: NewMetrics(),
	}

	proc, err := NewProcessor(ProcessorConfig{
		Store:   tp.store,
		Graph:   tp.graph,
		Tracker: tp.tracker,
		Applied: tp.applied,
		Metrics: tp.metrics,
		Logger:  newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	tp.proc = proc
	return tp
}

func (tp *testProcessor) cursor(t *testing.T) int64 {
	t.Helper()
	seq, err := tp.tracker.GetLastSequence(context.Background())
	if err != nil {
		t.Fatalf("GetLastSequence() error = %v", err)
	}
	return seq
}

// failingStore wraps the in-memory store and fails writes on demand.
type failingStore struct {
	*content.InMemoryStore
	upsertErr error
}

func (s *failingStore) Upsert(ctx context.Context, item content.Item) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.InMemoryStore.Upsert(ctx, item)
}

func TestNewProcessor_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProcessorConfig
		wantErr bool
	}{
		{
			name:    "missing store",
			cfg:     ProcessorConfig{Graph: social.NewMemoryGraph()},
			wantErr: true,
		},
		{
			name:    "missing graph",
			cfg:     ProcessorConfig{Store: content.NewInMemoryStore()},
			wantErr: true,
		},
		{
			name: "minimal config gets defaults",
			cfg: ProcessorConfig{
				Store: content.NewInMemoryStore(),
				Graph: social.NewMemoryGraph(),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, err := NewProcessor(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("NewProcessor() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProcessor() error = %v", err)
			}
			if proc == nil {
				t.Fatal("NewProcessor() returned nil processor")
			}
		})
	}
}

func TestProcessor_ContentLifecycle(t *testing.T) {
	tp := newTestProcessor(t)
	ctx := context.Background()

	create := encodeFrame(t, 1, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Text:        "first pressing",
		Tags:        []string{"vinyl"},
		CommunityID: "community-1",
		Likes:       7,
		CreatedAtUS: 1700000000000000,
	})
	if err := tp.proc.Process(ctx, create); err != nil {
		t.Fatalf("Process(create) error = %v", err)
	}

	item, err := tp.store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.AuthorID != "user-1" {
		t.Errorf("AuthorID = %q, want %q", item.AuthorID, "user-1")
	}
	if item.Likes != 7 {
		t.Errorf("Likes = %d, want 7", item.Likes)
	}
	if item.CommunityID == nil || *item.CommunityID != "community-1" {
		t.Errorf("CommunityID = %v, want community-1", item.CommunityID)
	}

	update := encodeFrame(t, 2, KindContent, ContentEvent{
		Operation:   OpUpdate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Text:        "first pressing, repress inbound",
		Tags:        []string{"vinyl"},
		CommunityID: "community-1",
		Likes:       9,
		CreatedAtUS: 1700000000000000,
	})
	if err := tp.proc.Process(ctx, update); err != nil {
		t.Fatalf("Process(update) error = %v", err)
	}

	item, err = tp.store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if item.Text != "first pressing, repress inbound" {
		t.Errorf("Text = %q, want updated text", item.Text)
	}
	if item.Likes != 9 {
		t.Errorf("Likes = %d, want 9", item.Likes)
	}

	del := encodeFrame(t, 3, KindContent, ContentEvent{
		Operation: OpDelete,
		ID:        "item-1",
	})
	if err := tp.proc.Process(ctx, del); err != nil {
		t.Fatalf("Process(delete) error = %v", err)
	}

	if _, err := tp.store.Get(ctx, "item-1"); !errors.Is(err, content.ErrItemNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrItemNotFound", err)
	}

	if got := tp.cursor(t); got != 3 {
		t.Errorf("cursor = %d, want 3", got)
	}
}

func TestProcessor_ContentDelete_UnknownItem(t *testing.T) {
	tp := newTestProcessor(t)

	frame := encodeFrame(t, 1, KindContent, ContentEvent{
		Operation: OpDelete,
		ID:        "never-seen",
	})

	// Deletes can arrive for items pruned before we saw them
	if err := tp.proc.Process(context.Background(), frame); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := tp.cursor(t); got != 1 {
		t.Errorf("cursor = %d, want 1", got)
	}
}

func TestProcessor_ReactionApplied(t *testing.T) {
	tp := newTestProcessor(t)
	ctx := context.Background()

	create := encodeFrame(t, 1, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Likes:       5,
		CreatedAtUS: 1700000000000000,
	})
	if err := tp.proc.Process(ctx, create); err != nil {
		t.Fatalf("Process(create) error = %v", err)
	}

	reaction := encodeFrame(t, 2, KindReaction, ReactionEvent{ItemID: "item-1", Delta: 3})
	if err := tp.proc.Process(ctx, reaction); err != nil {
		t.Fatalf("Process(reaction) error = %v", err)
	}

	item, err := tp.store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Likes != 8 {
		t.Errorf("Likes = %d, want 8", item.Likes)
	}
}

func TestProcessor_Reaction_UnknownItem(t *testing.T) {
	tp := newTestProcessor(t)

	frame := encodeFrame(t, 1, KindReaction, ReactionEvent{ItemID: "never-seen", Delta: 1})

	if err := tp.proc.Process(context.Background(), frame); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
}

func TestProcessor_GraphActions(t *testing.T) {
	tp := newTestProcessor(t)
	ctx := context.Background()

	follow := encodeFrame(t, 1, KindGraph, GraphEvent{Action: ActionFollow, UserID: "user-1", OtherID: "user-2"})
	if err := tp.proc.Process(ctx, follow); err != nil {
		t.Fatalf("Process(follow) error = %v", err)
	}
	conns, err := tp.graph.Connections(ctx, "user-1")
	if err != nil {
		t.Fatalf("Connections() error = %v", err)
	}
	if len(conns) != 1 || conns[0] != "user-2" {
		t.Errorf("Connections = %v, want [user-2]", conns)
	}

	unfollow := encodeFrame(t, 2, KindGraph, GraphEvent{Action: ActionUnfollow, UserID: "user-1", OtherID: "user-2"})
	if err := tp.proc.Process(ctx, unfollow); err != nil {
		t.Fatalf("Process(unfollow) error = %v", err)
	}
	conns, err = tp.graph.Connections(ctx, "user-1")
	if err != nil {
		t.Fatalf("Connections() error = %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("Connections after unfollow = %v, want empty", conns)
	}

	join := encodeFrame(t, 3, KindGraph, GraphEvent{Action: ActionJoinCommunity, UserID: "user-1", CommunityID: "community-1"})
	if err := tp.proc.Process(ctx, join); err != nil {
		t.Fatalf("Process(join) error = %v", err)
	}
	communities, err := tp.graph.Communities(ctx, "user-1")
	if err != nil {
		t.Fatalf("Communities() error = %v", err)
	}
	if len(communities) != 1 || communities[0] != "community-1" {
		t.Errorf("Communities = %v, want [community-1]", communities)
	}

	leave := encodeFrame(t, 4, KindGraph, GraphEvent{Action: ActionLeaveCommunity, UserID: "user-1", CommunityID: "community-1"})
	if err := tp.proc.Process(ctx, leave); err != nil {
		t.Fatalf("Process(leave) error = %v", err)
	}
	communities, err = tp.graph.Communities(ctx, "user-1")
	if err != nil {
		t.Fatalf("Communities() error = %v", err)
	}
	if len(communities) != 0 {
		t.Errorf("Communities after leave = %v, want empty", communities)
	}

	setInterests := encodeFrame(t, 5, KindGraph, GraphEvent{Action: ActionSetInterests, UserID: "user-1", Interests: []string{"techno", "zines"}})
	if err := tp.proc.Process(ctx, setInterests); err != nil {
		t.Fatalf("Process(set_interests) error = %v", err)
	}
	interests, err := tp.graph.Interests(ctx, "user-1")
	if err != nil {
		t.Fatalf("Interests() error = %v", err)
	}
	if len(interests) != 2 {
		t.Errorf("Interests = %v, want 2 entries", interests)
	}

	clearInterests := encodeFrame(t, 6, KindGraph, GraphEvent{Action: ActionSetInterests, UserID: "user-1"})
	if err := tp.proc.Process(ctx, clearInterests); err != nil {
		t.Fatalf("Process(clear interests) error = %v", err)
	}
	interests, err = tp.graph.Interests(ctx, "user-1")
	if err != nil {
		t.Fatalf("Interests() error = %v", err)
	}
	if len(interests) != 0 {
		t.Errorf("Interests after clear = %v, want empty", interests)
	}

	if got := tp.cursor(t); got != 6 {
		t.Errorf("cursor = %d, want 6", got)
	}
}

func TestProcessor_DuplicateFrameSkipped(t *testing.T) {
	tp := newTestProcessor(t)
	ctx := context.Background()

	create := encodeFrame(t, 1, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Likes:       5,
		CreatedAtUS: 1700000000000000,
	})
	if err := tp.proc.Process(ctx, create); err != nil {
		t.Fatalf("Process(create) error = %v", err)
	}

	reaction := encodeFrame(t, 2, KindReaction, ReactionEvent{ItemID: "item-1", Delta: 3})
	if err := tp.proc.Process(ctx, reaction); err != nil {
		t.Fatalf("Process(reaction) error = %v", err)
	}
	// A reconnect replays the same frame
	if err := tp.proc.Process(ctx, reaction); err != nil {
		t.Fatalf("Process(replayed reaction) error = %v", err)
	}

	item, err := tp.store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Likes != 8 {
		t.Errorf("Likes = %d, want 8 (replay must not re-apply)", item.Likes)
	}

	if got := getCounterValue(tp.metrics.duplicatesSkipped); got != 1 {
		t.Errorf("duplicatesSkipped = %v, want 1", got)
	}

	// A later reaction at a new sequence position still applies
	later := encodeFrame(t, 3, KindReaction, ReactionEvent{ItemID: "item-1", Delta: 3})
	if err := tp.proc.Process(ctx, later); err != nil {
		t.Fatalf("Process(later reaction) error = %v", err)
	}
	item, err = tp.store.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Likes != 11 {
		t.Errorf("Likes = %d, want 11", item.Likes)
	}
}

func TestProcessor_MalformedFrameDropped(t *testing.T) {
	tp := newTestProcessor(t)

	err := tp.proc.Process(context.Background(), []byte{0xff, 0xff, 0xff})
	if err != nil {
		t.Fatalf("Process() error = %v, want nil for undecodable frame", err)
	}

	if got := getCounterValue(tp.metrics.messagesError); got != 1 {
		t.Errorf("messagesError = %v, want 1", got)
	}
	if tp.store.Len() != 0 {
		t.Errorf("store has %d items, want 0", tp.store.Len())
	}
	if got := tp.cursor(t); got != 0 {
		t.Errorf("cursor = %d, want 0", got)
	}
}

func TestProcessor_StoreFailurePropagates(t *testing.T) {
	store := &failingStore{
		InMemoryStore: content.NewInMemoryStore(),
		upsertErr:     errors.New("connection refused"),
	}
	tracker := NewInMemorySequenceTracker(newTestLogger())

	proc, err := NewProcessor(ProcessorConfig{
		Store:   store,
		Graph:   social.NewMemoryGraph(),
		Tracker: tracker,
		Logger:  newTestLogger(),
	})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}

	frame := encodeFrame(t, 1, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		CreatedAtUS: 1700000000000000,
	})

	if err := proc.Process(context.Background(), frame); err == nil {
		t.Fatal("Process() expected error when the store write fails")
	}

	// The cursor must not advance past an unapplied event, so the
	// upstream replays it after reconnect
	seq, err := tracker.GetLastSequence(context.Background())
	if err != nil {
		t.Fatalf("GetLastSequence() error = %v", err)
	}
	if seq != 0 {
		t.Errorf("cursor = %d, want 0", seq)
	}

	// Once the store recovers, the replayed frame applies cleanly
	store.upsertErr = nil
	if err := proc.Process(context.Background(), frame); err != nil {
		t.Fatalf("Process(retry) error = %v", err)
	}
	seq, err = tracker.GetLastSequence(context.Background())
	if err != nil {
		t.Fatalf("GetLastSequence() error = %v", err)
	}
	if seq != 1 {
		t.Errorf("cursor = %d, want 1", seq)
	}
}

func TestProcessor_CursorNeverRegresses(t *testing.T) {
	tp := newTestProcessor(t)
	ctx := context.Background()

	first := encodeFrame(t, 5, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-5",
		AuthorID:    "user-1",
		CreatedAtUS: 1700000000000000,
	})
	if err := tp.proc.Process(ctx, first); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// Out-of-order delivery must not move the cursor backwards
	second := encodeFrame(t, 3, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-3",
		AuthorID:    "user-1",
		CreatedAtUS: 1700000000000000,
	})
	if err := tp.proc.Process(ctx, second); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := tp.cursor(t); got != 5 {
		t.Errorf("cursor = %d, want 5", got)
	}
}

func TestProcessor_Handler(t *testing.T) {
	tp := newTestProcessor(t)
	ctx := context.Background()

	handler := tp.proc.Handler(ctx)

	frame := encodeFrame(t, 1, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		CreatedAtUS: 1700000000000000,
	})

	if err := handler(2, frame); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	if _, err := tp.store.Get(ctx, "item-1"); err != nil {
		t.Errorf("Get() error = %v, want item applied through handler", err)
	}
}
