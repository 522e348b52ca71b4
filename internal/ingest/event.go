package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/feedmixer/internal/content"
	"github.com/onnwee/feedmixer/internal/idempotency"
)

// Event kinds carried on the firehose.
const (
	KindContent  = "content"
	KindReaction = "reaction"
	KindGraph    = "graph"
)

// Content operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Graph actions.
const (
	ActionFollow         = "follow"
	ActionUnfollow       = "unfollow"
	ActionJoinCommunity  = "join_community"
	ActionLeaveCommunity = "leave_community"
	ActionSetInterests   = "set_interests"
)

// Firehose frame decoding and validation errors.
var (
	ErrInvalidCBOR      = errors.New("invalid CBOR data")
	ErrMissingEvent     = errors.New("missing event payload in envelope")
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrUnknownOperation = errors.New("unknown content operation")
	ErrUnknownAction    = errors.New("unknown graph action")
	ErrMissingField     = errors.New("required event field missing")
)

// Envelope is the top-level frame read from the firehose. Kind selects
// which typed event the payload decodes into.
type Envelope struct {
	// Seq is the firehose position of this frame, used as the resume cursor.
	Seq int64 `cbor:"seq"`

	// TimeUS is the frame timestamp in microseconds.
	TimeUS int64 `cbor:"time_us"`

	// Kind is the event type ("content", "reaction", "graph").
	Kind string `cbor:"kind"`

	// Event contains the kind-specific payload.
	Event cbor.RawMessage `cbor:"event,omitempty"`
}

// ContentEvent describes a create, update, or delete of one content item.
// Create and update carry the full item state, including the current like
// count; delete carries only the id.
type ContentEvent struct {
	Operation   string   `cbor:"operation"`
	ID          string   `cbor:"id"`
	AuthorID    string   `cbor:"author_id,omitempty"`
	Text        string   `cbor:"text,omitempty"`
	Tags        []string `cbor:"tags,omitempty"`
	CommunityID string   `cbor:"community_id,omitempty"`
	Promoted    bool     `cbor:"promoted,omitempty"`
	Likes       int64    `cbor:"likes,omitempty"`
	CreatedAtUS int64    `cbor:"created_at_us,omitempty"`
}

// Validate checks the per-operation required fields.
func (e *ContentEvent) Validate() error {
	switch e.Operation {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, e.Operation)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingField)
	}
	if e.Operation == OpDelete {
		return nil
	}
	if e.AuthorID == "" {
		return fmt.Errorf("%w: author_id", ErrMissingField)
	}
	if e.CreatedAtUS <= 0 {
		return fmt.Errorf("%w: created_at_us", ErrMissingField)
	}
	return nil
}

// Item converts the event into a content store item.
func (e *ContentEvent) Item() content.Item {
	item := content.Item{
		ID:        e.ID,
		AuthorID:  e.AuthorID,
		Text:      e.Text,
		Tags:      e.Tags,
		Promoted:  e.Promoted,
		Likes:     e.Likes,
		CreatedAt: time.UnixMicro(e.CreatedAtUS).UTC(),
	}
	if e.CommunityID != "" {
		communityID := e.CommunityID
		item.CommunityID = &communityID
	}
	return item
}

// ReactionEvent adjusts an item's like count by a signed delta.
type ReactionEvent struct {
	ItemID string `cbor:"item_id"`
	Delta  int64  `cbor:"delta"`
}

// Validate checks the required fields.
func (e *ReactionEvent) Validate() error {
	if e.ItemID == "" {
		return fmt.Errorf("%w: item_id", ErrMissingField)
	}
	return nil
}

// GraphEvent describes a change to one user's social signals.
type GraphEvent struct {
	Action      string   `cbor:"action"`
	UserID      string   `cbor:"user_id"`
	OtherID     string   `cbor:"other_id,omitempty"`
	CommunityID string   `cbor:"community_id,omitempty"`
	Interests   []string `cbor:"interests,omitempty"`
}

// Validate checks the per-action required fields.
func (e *GraphEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: user_id", ErrMissingField)
	}
	switch e.Action {
	case ActionFollow, ActionUnfollow:
		if e.OtherID == "" {
			return fmt.Errorf("%w: other_id", ErrMissingField)
		}
	case ActionJoinCommunity, ActionLeaveCommunity:
		if e.CommunityID == "" {
			return fmt.Errorf("%w: community_id", ErrMissingField)
		}
	case ActionSetInterests:
		// An empty interest list clears the user's interests.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, e.Action)
	}
	return nil
}

// ParsedEvent is a decoded and validated firehose frame ready for
// dispatch. Exactly one of Content, Reaction, or Graph is set, matching
// Kind.
type ParsedEvent struct {
	Seq      int64
	TimeUS   int64
	Kind     string
	Content  *ContentEvent
	Reaction *ReactionEvent
	Graph    *GraphEvent
}

// Key returns the idempotency key identifying this event. Seq is part of
// the key, so a replayed frame dedupes while a later event touching the
// same entity does not.
func (e *ParsedEvent) Key() string {
	parts := []string{e.Kind, strconv.FormatInt(e.Seq, 10)}
	switch e.Kind {
	case KindContent:
		parts = append(parts, e.Content.Operation, e.Content.ID)
	case KindReaction:
		parts = append(parts, e.Reaction.ItemID)
	case KindGraph:
		parts = append(parts, e.Graph.Action, e.Graph.UserID)
	}
	return idempotency.EventKey(parts...)
}

// Operation returns the kind-specific operation or action, or "" when
// the kind carries none.
func (e *ParsedEvent) Operation() string {
	switch e.Kind {
	case KindContent:
		return e.Content.Operation
	case KindGraph:
		return e.Graph.Action
	default:
		return ""
	}
}

// DecodeEnvelope decodes a CBOR-encoded firehose frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, ErrInvalidCBOR
	}

	var env Envelope
	dec := cbor.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCBOR, err)
	}

	return &env, nil
}

// ParseEvent decodes a firehose frame and validates its kind-specific
// payload, returning an event ready for dispatch.
func ParseEvent(data []byte) (*ParsedEvent, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	if len(env.Event) == 0 {
		return nil, ErrMissingEvent
	}

	out := &ParsedEvent{
		Seq:    env.Seq,
		TimeUS: env.TimeUS,
		Kind:   env.Kind,
	}

	switch env.Kind {
	case KindContent:
		var ev ContentEvent
		if err := decodeEventPayload(env.Event, &ev); err != nil {
			return nil, err
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		out.Content = &ev
	case KindReaction:
		var ev ReactionEvent
		if err := decodeEventPayload(env.Event, &ev); err != nil {
			return nil, err
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		out.Reaction = &ev
	case KindGraph:
		var ev GraphEvent
		if err := decodeEventPayload(env.Event, &ev); err != nil {
			return nil, err
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		out.Graph = &ev
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, env.Kind)
	}

	return out, nil
}

// decodeEventPayload decodes the kind-specific payload of an envelope.
func decodeEventPayload(raw cbor.RawMessage, v interface{}) error {
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCBOR, err)
	}
	return nil
}

// EncodeCBOR encodes a value to CBOR bytes. Used by tests and by tools
// that synthesize firehose frames.
func EncodeCBOR(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return buf.Bytes(), nil
}
