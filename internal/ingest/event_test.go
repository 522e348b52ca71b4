package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encodeFrame builds a CBOR firehose frame around the given event payload.
func encodeFrame(t testing.TB, seq int64, kind string, event interface{}) []byte {
	t.Helper()

	env := Envelope{
		Seq:    seq,
		TimeUS: seq * 1_000_000,
		Kind:   kind,
	}
	if event != nil {
		raw, err := EncodeCBOR(event)
		if err != nil {
			t.Fatalf("failed to encode event payload: %v", err)
		}
		env.Event = cbor.RawMessage(raw)
	}

	data, err := EncodeCBOR(env)
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}
	return data
}

func TestParseEvent_ContentCreate(t *testing.T) {
	frame := encodeFrame(t, 42, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Text:        "fresh drop",
		Tags:        []string{"techno", "vinyl"},
		CommunityID: "community-1",
		Promoted:    true,
		Likes:       7,
		CreatedAtUS: 1700000000000000,
	})

	parsed, err := ParseEvent(frame)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}

	if parsed.Seq != 42 {
		t.Errorf("Seq = %d, want 42", parsed.Seq)
	}
	if parsed.Kind != KindContent {
		t.Errorf("Kind = %q, want %q", parsed.Kind, KindContent)
	}
	if parsed.Content == nil {
		t.Fatal("Content is nil")
	}
	if parsed.Reaction != nil || parsed.Graph != nil {
		t.Error("expected only Content to be set")
	}
	if parsed.Content.Operation != OpCreate {
		t.Errorf("Operation = %q, want %q", parsed.Content.Operation, OpCreate)
	}
	if parsed.Content.ID != "item-1" {
		t.Errorf("ID = %q, want %q", parsed.Content.ID, "item-1")
	}
	if parsed.Content.AuthorID != "user-1" {
		t.Errorf("AuthorID = %q, want %q", parsed.Content.AuthorID, "user-1")
	}
	if len(parsed.Content.Tags) != 2 {
		t.Errorf("len(Tags) = %d, want 2", len(parsed.Content.Tags))
	}
	if parsed.Content.Likes != 7 {
		t.Errorf("Likes = %d, want 7", parsed.Content.Likes)
	}
}

func TestParseEvent_ContentDelete(t *testing.T) {
	frame := encodeFrame(t, 43, KindContent, ContentEvent{
		Operation: OpDelete,
		ID:        "item-1",
	})

	parsed, err := ParseEvent(frame)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if parsed.Content.Operation != OpDelete {
		t.Errorf("Operation = %q, want %q", parsed.Content.Operation, OpDelete)
	}
	if parsed.Content.ID != "item-1" {
		t.Errorf("ID = %q, want %q", parsed.Content.ID, "item-1")
	}
}

func TestParseEvent_Reaction(t *testing.T) {
	frame := encodeFrame(t, 44, KindReaction, ReactionEvent{
		ItemID: "item-1",
		Delta:  -2,
	})

	parsed, err := ParseEvent(frame)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if parsed.Reaction == nil {
		t.Fatal("Reaction is nil")
	}
	if parsed.Reaction.ItemID != "item-1" {
		t.Errorf("ItemID = %q, want %q", parsed.Reaction.ItemID, "item-1")
	}
	if parsed.Reaction.Delta != -2 {
		t.Errorf("Delta = %d, want -2", parsed.Reaction.Delta)
	}
}

func TestParseEvent_GraphActions(t *testing.T) {
	tests := []struct {
		name  string
		event GraphEvent
	}{
		{
			name:  "follow",
			event: GraphEvent{Action: ActionFollow, UserID: "user-1", OtherID: "user-2"},
		},
		{
			name:  "unfollow",
			event: GraphEvent{Action: ActionUnfollow, UserID: "user-1", OtherID: "user-2"},
		},
		{
			name:  "join community",
			event: GraphEvent{Action: ActionJoinCommunity, UserID: "user-1", CommunityID: "community-1"},
		},
		{
			name:  "leave community",
			event: GraphEvent{Action: ActionLeaveCommunity, UserID: "user-1", CommunityID: "community-1"},
		},
		{
			name:  "set interests",
			event: GraphEvent{Action: ActionSetInterests, UserID: "user-1", Interests: []string{"techno", "zines"}},
		},
		{
			name:  "set interests with empty list clears",
			event: GraphEvent{Action: ActionSetInterests, UserID: "user-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodeFrame(t, 45, KindGraph, tt.event)

			parsed, err := ParseEvent(frame)
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if parsed.Graph == nil {
				t.Fatal("Graph is nil")
			}
			if parsed.Graph.Action != tt.event.Action {
				t.Errorf("Action = %q, want %q", parsed.Graph.Action, tt.event.Action)
			}
			if parsed.Graph.UserID != tt.event.UserID {
				t.Errorf("UserID = %q, want %q", parsed.Graph.UserID, tt.event.UserID)
			}
		})
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{
			name:    "empty data",
			frame:   []byte{},
			wantErr: ErrInvalidCBOR,
		},
		{
			name:    "malformed CBOR",
			frame:   []byte{0xff, 0xff, 0xff, 0xff},
			wantErr: ErrInvalidCBOR,
		},
		{
			name:    "missing event payload",
			frame:   encodeFrame(t, 1, KindContent, nil),
			wantErr: ErrMissingEvent,
		},
		{
			name:    "unknown kind",
			frame:   encodeFrame(t, 1, "telemetry", ReactionEvent{ItemID: "item-1"}),
			wantErr: ErrUnknownEventKind,
		},
		{
			name:    "unknown content operation",
			frame:   encodeFrame(t, 1, KindContent, ContentEvent{Operation: "archive", ID: "item-1"}),
			wantErr: ErrUnknownOperation,
		},
		{
			name:    "content missing id",
			frame:   encodeFrame(t, 1, KindContent, ContentEvent{Operation: OpDelete}),
			wantErr: ErrMissingField,
		},
		{
			name: "content create missing author",
			frame: encodeFrame(t, 1, KindContent, ContentEvent{
				Operation:   OpCreate,
				ID:          "item-1",
				CreatedAtUS: 1700000000000000,
			}),
			wantErr: ErrMissingField,
		},
		{
			name: "content create missing created_at_us",
			frame: encodeFrame(t, 1, KindContent, ContentEvent{
				Operation: OpCreate,
				ID:        "item-1",
				AuthorID:  "user-1",
			}),
			wantErr: ErrMissingField,
		},
		{
			name:    "reaction missing item_id",
			frame:   encodeFrame(t, 1, KindReaction, ReactionEvent{Delta: 1}),
			wantErr: ErrMissingField,
		},
		{
			name:    "graph missing user_id",
			frame:   encodeFrame(t, 1, KindGraph, GraphEvent{Action: ActionFollow, OtherID: "user-2"}),
			wantErr: ErrMissingField,
		},
		{
			name:    "follow missing other_id",
			frame:   encodeFrame(t, 1, KindGraph, GraphEvent{Action: ActionFollow, UserID: "user-1"}),
			wantErr: ErrMissingField,
		},
		{
			name:    "join missing community_id",
			frame:   encodeFrame(t, 1, KindGraph, GraphEvent{Action: ActionJoinCommunity, UserID: "user-1"}),
			wantErr: ErrMissingField,
		},
		{
			name:    "unknown graph action",
			frame:   encodeFrame(t, 1, KindGraph, GraphEvent{Action: "block", UserID: "user-1"}),
			wantErr: ErrUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseEvent() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeEnvelope_EmptyData(t *testing.T) {
	_, err := DecodeEnvelope([]byte{})
	if err != ErrInvalidCBOR {
		t.Errorf("expected ErrInvalidCBOR, got %v", err)
	}
}

func TestContentEvent_Item(t *testing.T) {
	createdUS := int64(1700000000000000)
	ev := ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Text:        "fresh drop",
		Tags:        []string{"techno"},
		Promoted:    true,
		Likes:       3,
		CreatedAtUS: createdUS,
	}

	item := ev.Item()
	if item.ID != ev.ID {
		t.Errorf("ID = %q, want %q", item.ID, ev.ID)
	}
	if item.CommunityID != nil {
		t.Errorf("CommunityID = %v, want nil", *item.CommunityID)
	}
	want := time.UnixMicro(createdUS).UTC()
	if !item.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", item.CreatedAt, want)
	}
	if item.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", item.CreatedAt.Location())
	}

	ev.CommunityID = "community-1"
	item = ev.Item()
	if item.CommunityID == nil || *item.CommunityID != "community-1" {
		t.Errorf("CommunityID = %v, want community-1", item.CommunityID)
	}
}

func TestParsedEvent_Key(t *testing.T) {
	frame := encodeFrame(t, 100, KindReaction, ReactionEvent{ItemID: "item-1", Delta: 1})

	first, err := ParseEvent(frame)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	second, err := ParseEvent(frame)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if first.Key() != second.Key() {
		t.Error("identical frames should produce identical keys")
	}

	// The same logical event at a new firehose position is a new delivery,
	// not a replay.
	later, err := ParseEvent(encodeFrame(t, 101, KindReaction, ReactionEvent{ItemID: "item-1", Delta: 1}))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if first.Key() == later.Key() {
		t.Error("different sequence positions should produce different keys")
	}

	otherKind, err := ParseEvent(encodeFrame(t, 100, KindGraph, GraphEvent{Action: ActionFollow, UserID: "item-1", OtherID: "x"}))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if first.Key() == otherKind.Key() {
		t.Error("different kinds should produce different keys")
	}
}

func TestParsedEvent_Operation(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{
			name:  "content op",
			frame: encodeFrame(t, 1, KindContent, ContentEvent{Operation: OpDelete, ID: "item-1"}),
			want:  OpDelete,
		},
		{
			name:  "graph action",
			frame: encodeFrame(t, 1, KindGraph, GraphEvent{Action: ActionFollow, UserID: "u1", OtherID: "u2"}),
			want:  ActionFollow,
		},
		{
			name:  "reaction has none",
			frame: encodeFrame(t, 1, KindReaction, ReactionEvent{ItemID: "item-1"}),
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseEvent(tt.frame)
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if got := parsed.Operation(); got != tt.want {
				t.Errorf("Operation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func BenchmarkParseEvent(b *testing.B) {
	frame := encodeFrame(b, 42, KindContent, ContentEvent{
		Operation:   OpCreate,
		ID:          "item-1",
		AuthorID:    "user-1",
		Text:        "fresh drop",
		Tags:        []string{"techno", "vinyl"},
		CreatedAtUS: 1700000000000000,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseEvent(frame)
	}
}
