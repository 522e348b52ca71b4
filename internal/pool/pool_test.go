package pool

import (
	"errors"
	"testing"
	"time"
)

func TestKindsCanonicalOrder(t *testing.T) {
	want := []Kind{
		PersonalConnections,
		InterestBased,
		Trending,
		Discovery,
		Community,
		Product,
	}

	got := Kinds()
	if len(got) != len(want) {
		t.Fatalf("Kinds() returned %d kinds, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKindsReturnsCopy(t *testing.T) {
	first := Kinds()
	first[0] = Kind("mutated")

	second := Kinds()
	if second[0] != PersonalConnections {
		t.Errorf("mutating the returned slice leaked into the canonical order: got %q", second[0])
	}
}

func TestKindIndex(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want int
	}{
		{"personal connections first", PersonalConnections, 0},
		{"interest based second", InterestBased, 1},
		{"trending third", Trending, 2},
		{"discovery fourth", Discovery, 3},
		{"community fifth", Community, 4},
		{"product last", Product, 5},
		{"unknown kind", Kind("bogus"), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Index(); got != tt.want {
				t.Errorf("Index() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Kind
		wantErr bool
	}{
		{"valid personal_connections", "personal_connections", PersonalConnections, false},
		{"valid product", "product", Product, false},
		{"empty string", "", "", true},
		{"unknown value", "sponsored", "", true},
		{"case sensitive", "Trending", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKind(%q) expected error, got %q", tt.input, got)
				}
				if !errors.Is(err, ErrUnknownKind) {
					t.Errorf("ParseKind(%q) error = %v, want ErrUnknownKind", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCandidateValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		candidate Candidate
		wantErr   error
	}{
		{
			name: "valid candidate",
			candidate: Candidate{
				ID:        "post-1",
				Pool:      Trending,
				AuthorID:  "user-2",
				CreatedAt: now,
			},
			wantErr: nil,
		},
		{
			name: "missing id",
			candidate: Candidate{
				Pool:      Trending,
				AuthorID:  "user-2",
				CreatedAt: now,
			},
			wantErr: ErrMissingID,
		},
		{
			name: "missing created_at",
			candidate: Candidate{
				ID:       "post-1",
				Pool:     Trending,
				AuthorID: "user-2",
			},
			wantErr: ErrMissingCreatedAt,
		},
		{
			name: "unknown pool",
			candidate: Candidate{
				ID:        "post-1",
				Pool:      Kind("bogus"),
				CreatedAt: now,
			},
			wantErr: ErrUnknownKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candidate.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCandidateCloneIsDeep(t *testing.T) {
	orig := Candidate{
		ID:        "post-1",
		Pool:      InterestBased,
		AuthorID:  "user-1",
		Tags:      []string{"synth", "diy"},
		CreatedAt: time.Now(),
	}

	clone := orig.Clone()
	clone.Tags[0] = "changed"

	if orig.Tags[0] != "synth" {
		t.Errorf("Clone() shares tag storage with the original: got %q", orig.Tags[0])
	}
}
