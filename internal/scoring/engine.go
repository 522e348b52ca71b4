package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/onnwee/feedmixer/internal/pool"
)

// Default tuning for the non-weight knobs.
const (
	// DefaultDecayLambda is the hourly exponential decay rate for the
	// recency sub-score. 0.05 halves a candidate's recency score roughly
	// every 14 hours.
	DefaultDecayLambda = 0.05

	// DefaultSecondDegreeScore is the connection sub-score for
	// friend-of-friend authors. Direct connections always score 1.0.
	DefaultSecondDegreeScore = 0.5
)

// Connection degrees as reported by the social graph.
const (
	DegreeNone   = 0
	DegreeDirect = 1
	DegreeSecond = 2
)

// SubScores carries the three component scores that produced a final score.
// Exposed for diagnostics; ordering decisions use only the final score.
type SubScores struct {
	Interest   float64 `json:"interest"`
	Connection float64 `json:"connection"`
	Time       float64 `json:"time"`
}

// ScoredCandidate is a candidate annotated with its relevance score.
type ScoredCandidate struct {
	pool.Candidate

	Score     float64   `json:"score"`
	SubScores SubScores `json:"sub_scores"`
}

// UserContext is the per-user data scoring reads. Callers resolve interests
// and connection degrees up front so that Score itself performs no lookups.
type UserContext struct {
	UserID string

	// Interests is the user's interest tag set.
	Interests map[string]struct{}

	// Degrees maps author IDs to connection degree (DegreeDirect,
	// DegreeSecond). Absent authors are unconnected.
	Degrees map[string]int
}

// NewUserContext builds a UserContext from an interest list and a degree map.
func NewUserContext(userID string, interests []string, degrees map[string]int) UserContext {
	set := make(map[string]struct{}, len(interests))
	for _, tag := range interests {
		set[tag] = struct{}{}
	}
	return UserContext{UserID: userID, Interests: set, Degrees: degrees}
}

// EngineConfig tunes an Engine. Zero values select the defaults.
type EngineConfig struct {
	Weights           Weights
	DecayLambda       float64
	SecondDegreeScore float64
}

// Engine computes candidate relevance scores. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	weights      Weights
	decayLambda  float64
	secondDegree float64
}

// NewEngine validates the configuration and returns a scoring engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.DecayLambda == 0 {
		cfg.DecayLambda = DefaultDecayLambda
	}
	if cfg.DecayLambda < 0 || math.IsNaN(cfg.DecayLambda) {
		return nil, fmt.Errorf("decay lambda is %v, must be >= 0", cfg.DecayLambda)
	}
	if cfg.SecondDegreeScore == 0 {
		cfg.SecondDegreeScore = DefaultSecondDegreeScore
	}
	if cfg.SecondDegreeScore < 0 || cfg.SecondDegreeScore > 1 || math.IsNaN(cfg.SecondDegreeScore) {
		return nil, fmt.Errorf("second degree score is %v, must be in [0, 1]", cfg.SecondDegreeScore)
	}

	return &Engine{
		weights:      cfg.Weights,
		decayLambda:  cfg.DecayLambda,
		secondDegree: cfg.SecondDegreeScore,
	}, nil
}

// Weights returns the engine's scoring weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Score computes the relevance of a candidate for a user at the given
// instant. It is deterministic: the same inputs always produce the same
// score, so results can be cached and replayed.
func (e *Engine) Score(c pool.Candidate, uc UserContext, now time.Time) ScoredCandidate {
	sub := SubScores{
		Interest:   e.interestScore(c.Tags, uc.Interests),
		Connection: e.connectionScore(c.AuthorID, uc.Degrees),
		Time:       e.timeScore(c.CreatedAt, now),
	}

	total := e.weights.Interest*sub.Interest +
		e.weights.Connection*sub.Connection +
		e.weights.Time*sub.Time

	return ScoredCandidate{Candidate: c, Score: total, SubScores: sub}
}

// ScoreAll scores a batch of candidates against one user context.
func (e *Engine) ScoreAll(cs []pool.Candidate, uc UserContext, now time.Time) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(cs))
	for i, c := range cs {
		scored[i] = e.Score(c, uc, now)
	}
	return scored
}

// interestScore is the fraction of the candidate's tags present in the
// user's interest set. Untagged candidates and users without interests
// score 0: no evidence of affinity is not affinity.
func (e *Engine) interestScore(tags []string, interests map[string]struct{}) float64 {
	if len(tags) == 0 || len(interests) == 0 {
		return 0
	}
	matched := 0
	for _, tag := range tags {
		if _, ok := interests[tag]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(tags))
}

// connectionScore maps the author's connection degree to a sub-score.
// Direct connections score 1.0, second-degree connections score the
// configured fraction, everyone else scores 0.
func (e *Engine) connectionScore(authorID string, degrees map[string]int) float64 {
	switch degrees[authorID] {
	case DegreeDirect:
		return 1.0
	case DegreeSecond:
		return e.secondDegree
	default:
		return 0
	}
}

// timeScore decays exponentially with candidate age in hours. Ages at or
// below zero (clock skew, items timestamped in the future) clamp to the
// maximum score of 1.0 rather than exceeding it.
func (e *Engine) timeScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt).Hours()
	if age <= 0 {
		return 1.0
	}
	return math.Exp(-e.decayLambda * age)
}
