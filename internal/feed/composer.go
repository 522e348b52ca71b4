package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/experiment"
	"github.com/onnwee/feedmixer/internal/pool"
	"github.com/onnwee/feedmixer/internal/scoring"
	"github.com/onnwee/feedmixer/internal/slots"
	"github.com/onnwee/feedmixer/internal/tracing"
)

// phase names one stage of a composition run. Each Generate call walks the
// phases in order; they label logs and trace events, not goroutines.
type phase string

const (
	phaseIdle       phase = "idle"
	phaseFetching   phase = "fetching_candidates"
	phaseScoring    phase = "scoring"
	phaseAllocating phase = "allocating"
	phaseMerging    phase = "merging"
	phaseCaching    phase = "caching"
	phaseDone       phase = "done"
)

// UserContextProvider supplies the per-user inputs scoring needs. Both
// lookups are read-only; the composer resolves them once per request and
// hands scoring plain data.
type UserContextProvider interface {
	// Interests returns the user's interest tags.
	Interests(ctx context.Context, userID string) ([]string, error)

	// ConnectionDegree reports how the user relates to another user:
	// 1 for a direct connection, 2 for second degree, 0 otherwise.
	ConnectionDegree(ctx context.Context, userID, otherID string) (int, error)
}

// Composer tuning defaults.
const (
	DefaultMaxFeedSize     = 100
	DefaultOverfetchFactor = 2
	DefaultPoolTimeout     = 2 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
)

var (
	// ErrSizeTooLarge rejects feed sizes above the configured maximum.
	ErrSizeTooLarge = errors.New("requested feed size exceeds the maximum")

	errMissingStore   = errors.New("composer requires a composition store")
	errMissingSources = errors.New("composer requires a source registry")
	errMissingEngine  = errors.New("composer requires a scoring engine")
	errMissingUsers   = errors.New("composer requires a user context provider")
)

// ComposerConfig wires a Composer. Store, Sources, Engine, and Users are
// required; everything else has a working default. A nil Cache disables
// caching, a nil Assigner disables experiments.
type ComposerConfig struct {
	Store    composition.Store
	Sources  *pool.Registry
	Engine   *scoring.Engine
	Users    UserContextProvider
	Cache    Cache
	Assigner *experiment.Assigner

	Logger  *slog.Logger
	Metrics *Metrics

	// DefaultWeights replaces the built-in distribution for users with no
	// stored composition. Nil keeps the built-in defaults.
	DefaultWeights map[pool.Kind]float64

	// MaxSize caps the requested feed size.
	MaxSize int

	// OverfetchFactor multiplies each pool's allocation when fetching, so
	// scoring can reorder within a pool before truncation.
	OverfetchFactor int

	// PoolTimeout bounds each pool's fetch. A pool that exceeds it
	// contributes nothing instead of stalling the request.
	PoolTimeout time.Duration

	// CacheTTL bounds how long composed feeds are served from cache.
	CacheTTL time.Duration
}

// Composer turns feed requests into ranked results. It is safe for
// concurrent use; each Generate call keeps its own state.
type Composer struct {
	store    composition.Store
	sources  *pool.Registry
	engine   *scoring.Engine
	users    UserContextProvider
	cache    Cache
	assigner *experiment.Assigner

	logger  *slog.Logger
	metrics *Metrics

	defaultWeights map[pool.Kind]float64

	maxSize     int
	overfetch   int
	poolTimeout time.Duration
	cacheTTL    time.Duration

	// timeNow is replaceable in tests to pin the scoring clock.
	timeNow func() time.Time
}

// NewComposer validates the wiring and returns a composer.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	switch {
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Sources == nil:
		return nil, errMissingSources
	case cfg.Engine == nil:
		return nil, errMissingEngine
	case cfg.Users == nil:
		return nil, errMissingUsers
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	var defaults map[pool.Kind]float64
	if cfg.DefaultWeights != nil {
		if err := composition.ValidateWeights(cfg.DefaultWeights); err != nil {
			return nil, fmt.Errorf("composer default weights: %w", err)
		}
		defaults = make(map[pool.Kind]float64, len(cfg.DefaultWeights))
		for kind, w := range cfg.DefaultWeights {
			defaults[kind] = w
		}
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxFeedSize
	}
	if cfg.OverfetchFactor < 1 {
		cfg.OverfetchFactor = DefaultOverfetchFactor
	}
	if cfg.PoolTimeout <= 0 {
		cfg.PoolTimeout = DefaultPoolTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	return &Composer{
		store:          cfg.Store,
		sources:        cfg.Sources,
		engine:         cfg.Engine,
		users:          cfg.Users,
		cache:          cfg.Cache,
		assigner:       cfg.Assigner,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		defaultWeights: defaults,
		maxSize:        cfg.MaxSize,
		overfetch:      cfg.OverfetchFactor,
		poolTimeout:    cfg.PoolTimeout,
		cacheTTL:       cfg.CacheTTL,
		timeNow:        time.Now,
	}, nil
}

// Generate composes one feed. Individual pool failures degrade that pool
// to an empty contribution; the call itself fails only for invalid input
// or a composition no allocation could be derived from.
func (c *Composer) Generate(ctx context.Context, userID string, size int, refresh bool) (result *Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.generate")
	defer func() { endSpan(err) }()

	start := time.Now()
	result, err = c.generate(ctx, userID, size, refresh)
	c.metrics.ObserveCompositionDuration(time.Since(start).Seconds())
	if err != nil {
		c.metrics.IncCompositions(StatusFailure)
		return nil, err
	}
	c.metrics.IncCompositions(StatusSuccess)
	c.metrics.ObserveItemsReturned(float64(len(result.Items)))
	return result, nil
}

func (c *Composer) generate(ctx context.Context, userID string, size int, refresh bool) (*Result, error) {
	if size < 0 {
		return nil, fmt.Errorf("generate feed for %q: %w", userID, slots.ErrNegativeSize)
	}
	if size > c.maxSize {
		return nil, fmt.Errorf("generate feed for %q: size %d: %w", userID, size, ErrSizeTooLarge)
	}

	run := &run{
		phase: phaseIdle,
		log:   c.logger.With("user_id", userID, "size", size),
	}
	now := c.timeNow()

	cfg := c.resolveComposition(ctx, userID)
	group := ""
	if c.assigner != nil {
		assignment := c.assigner.Assign(userID)
		group = assignment.Group
		c.metrics.IncExperimentAssignments(group)
		if assignment.Override != nil {
			overridden, err := composition.New(userID, assignment.Override)
			if err != nil {
				run.log.Warn("experiment override rejected, keeping stored composition",
					"experiment", assignment.Experiment, "group", group, "error", err)
			} else {
				cfg = overridden
				run.log.Debug("experiment override applied",
					"experiment", assignment.Experiment, "group", group)
			}
		}
	}

	key := CacheKey(userID, size, cfg.Fingerprint())
	if !refresh {
		if cached := c.cacheGet(ctx, key, run); cached != nil {
			return cached, nil
		}
	}

	alloc, err := slots.Allocate(cfg.Weights, size)
	if err != nil {
		return nil, fmt.Errorf("generate feed for %q: %w", userID, err)
	}

	result := &Result{
		CompositionUsed: cfg,
		ExperimentGroup: group,
		GeneratedAt:     now,
		CacheKey:        key,
	}
	if size == 0 {
		result.Items = []scoring.ScoredCandidate{}
		return result, nil
	}

	run.transition(phaseFetching)
	fetched, degraded := c.fetchPools(ctx, userID, alloc)
	result.PoolsDegraded = degraded

	run.transition(phaseScoring)
	uc := c.resolveUserContext(ctx, userID, fetched, run)
	scored := make(map[pool.Kind][]scoring.ScoredCandidate, len(fetched))
	available := make(map[pool.Kind]int, len(fetched))
	for kind, items := range fetched {
		ranked := c.engine.ScoreAll(items, uc, now)
		SortByRank(ranked)
		scored[kind] = ranked
		available[kind] = len(ranked)
	}

	run.transition(phaseAllocating)
	final := slots.Rebalance(alloc, cfg.Weights, available)

	run.transition(phaseMerging)
	merged := make([]scoring.ScoredCandidate, 0, size)
	for _, kind := range pool.Kinds() {
		take := final[kind]
		if take > len(scored[kind]) {
			take = len(scored[kind])
		}
		merged = append(merged, scored[kind][:take]...)
	}
	SortByRank(merged)
	merged = DedupeByID(merged)
	if len(merged) > size {
		merged = merged[:size]
	}
	result.Items = merged

	run.transition(phaseCaching)
	c.cacheSet(ctx, key, result, run)

	run.transition(phaseDone)
	run.log.Info("feed composed",
		"items", len(result.Items),
		"pools_degraded", len(degraded),
		"experiment_group", group,
	)
	return result, nil
}

// resolveComposition loads the user's stored composition. Users without one
// get the default distribution, persisted so later updates mutate a real
// row. Store outages degrade to the in-memory default rather than failing
// the feed.
func (c *Composer) resolveComposition(ctx context.Context, userID string) composition.Config {
	cfg, err := c.store.Load(ctx, userID)
	switch {
	case err == nil:
		return *cfg
	case errors.Is(err, composition.ErrNotFound):
		created := c.defaultComposition(userID)
		if err := c.store.Save(ctx, created); err != nil {
			c.logger.Warn("could not persist default composition",
				"user_id", userID, "error", err)
		}
		return created
	default:
		c.logger.Warn("composition load failed, using defaults",
			"user_id", userID, "error", err)
		return c.defaultComposition(userID)
	}
}

// defaultComposition builds the composition for a user with no stored row:
// the configured weight table when one was wired, the built-in distribution
// otherwise.
func (c *Composer) defaultComposition(userID string) composition.Config {
	if c.defaultWeights == nil {
		return composition.Default(userID)
	}
	cfg, err := composition.New(userID, c.defaultWeights)
	if err != nil {
		c.logger.Warn("configured default weights rejected, using built-in distribution",
			"user_id", userID, "error", err)
		return composition.Default(userID)
	}
	return cfg
}

// fetchPools fans out one fetch per allocated pool, each under its own
// timeout. Failed pools are reported, not fatal.
func (c *Composer) fetchPools(ctx context.Context, userID string, alloc map[pool.Kind]int) (map[pool.Kind][]pool.Candidate, []pool.Kind) {
	kinds := make([]pool.Kind, 0, len(alloc))
	for _, k := range pool.Kinds() {
		if alloc[k] > 0 {
			kinds = append(kinds, k)
		}
	}

	type outcome struct {
		items []pool.Candidate
		err   error
	}
	outcomes := make([]outcome, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind pool.Kind) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, c.poolTimeout)
			defer cancel()
			items, err := c.sources.Fetch(fetchCtx, userID, kind, alloc[kind]*c.overfetch)
			outcomes[i] = outcome{items: items, err: err}
		}(i, kind)
	}
	wg.Wait()

	fetched := make(map[pool.Kind][]pool.Candidate, len(kinds))
	var degraded []pool.Kind
	for i, kind := range kinds {
		if err := outcomes[i].err; err != nil {
			srcErr := pool.ClassifySourceError(kind, err)
			c.logger.Warn("candidate pool degraded",
				"pool", string(kind), "kind", string(srcErr.Kind), "error", err)
			c.metrics.IncPoolFailures(kind, srcErr.Kind)
			degraded = append(degraded, kind)
			continue
		}
		fetched[kind] = outcomes[i].items
	}
	return fetched, degraded
}

// resolveUserContext gathers the interest set and the connection degree of
// every distinct author in the fetched batches. Lookup failures degrade to
// an empty signal so recency alone can still order the feed.
func (c *Composer) resolveUserContext(ctx context.Context, userID string, fetched map[pool.Kind][]pool.Candidate, run *run) scoring.UserContext {
	interests, err := c.users.Interests(ctx, userID)
	if err != nil {
		run.log.Warn("interest lookup failed, scoring without interests", "error", err)
	}

	authors := make(map[string]struct{})
	for _, items := range fetched {
		for i := range items {
			if a := items[i].AuthorID; a != "" {
				authors[a] = struct{}{}
			}
		}
	}

	degrees := make(map[string]int, len(authors))
	failures := 0
	for author := range authors {
		degree, err := c.users.ConnectionDegree(ctx, userID, author)
		if err != nil {
			failures++
			continue
		}
		if degree != scoring.DegreeNone {
			degrees[author] = degree
		}
	}
	if failures > 0 {
		run.log.Warn("connection degree lookups failed, affected authors score unconnected",
			"failed", failures, "total", len(authors))
	}

	return scoring.NewUserContext(userID, interests, degrees)
}

func (c *Composer) cacheGet(ctx context.Context, key string, run *run) *Result {
	if c.cache == nil {
		return nil
	}
	cached, err := c.cache.Get(ctx, key)
	if err == nil && cached != nil {
		c.metrics.IncCacheHits()
		run.log.Debug("feed served from cache", "cache_key", key)
		return cached
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		run.log.Warn("feed cache read failed, treating as miss", "cache_key", key, "error", err)
	}
	c.metrics.IncCacheMisses()
	return nil
}

func (c *Composer) cacheSet(ctx context.Context, key string, result *Result, run *run) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, result, c.cacheTTL); err != nil {
		run.log.Warn("feed cache write failed", "cache_key", key, "error", err)
	}
}

// GetComposition returns the user's stored composition, or the default
// distribution if none exists yet. Reading never creates a row.
func (c *Composer) GetComposition(ctx context.Context, userID string) (composition.Config, error) {
	cfg, err := c.store.Load(ctx, userID)
	if errors.Is(err, composition.ErrNotFound) {
		return c.defaultComposition(userID), nil
	}
	if err != nil {
		return composition.Config{}, fmt.Errorf("get composition for %q: %w", userID, err)
	}
	return *cfg, nil
}

// UpdateComposition validates and stores new weights for the user, then
// invalidates their cached feeds. Invalid weights leave the stored
// configuration untouched.
func (c *Composer) UpdateComposition(ctx context.Context, userID string, weights map[pool.Kind]float64) (composition.Config, error) {
	cfg, err := composition.New(userID, weights)
	if err != nil {
		return composition.Config{}, err
	}
	if err := c.store.Save(ctx, cfg); err != nil {
		return composition.Config{}, fmt.Errorf("update composition for %q: %w", userID, err)
	}
	saved, err := c.store.Load(ctx, userID)
	if err != nil {
		return composition.Config{}, fmt.Errorf("update composition for %q: reload: %w", userID, err)
	}

	c.invalidateUser(ctx, userID)
	c.logger.Info("composition updated", "user_id", userID, "fingerprint", saved.Fingerprint())
	return *saved, nil
}

// ResetComposition restores the user's composition to the default
// distribution and invalidates their cached feeds.
func (c *Composer) ResetComposition(ctx context.Context, userID string) (composition.Config, error) {
	cfg, err := c.store.Reset(ctx, userID)
	if err != nil {
		return composition.Config{}, fmt.Errorf("reset composition for %q: %w", userID, err)
	}

	c.invalidateUser(ctx, userID)
	c.logger.Info("composition reset", "user_id", userID)
	return *cfg, nil
}

// ExperimentAssignment reports the experiment group the user would compose
// under. Returns nil when no experiment is configured.
func (c *Composer) ExperimentAssignment(userID string) *experiment.Assignment {
	if c.assigner == nil {
		return nil
	}
	assignment := c.assigner.Assign(userID)
	return &assignment
}

func (c *Composer) invalidateUser(ctx context.Context, userID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateUser(ctx, userID); err != nil {
		c.logger.Warn("feed cache invalidation failed", "user_id", userID, "error", err)
	}
}

// run tracks the phase of one composition for logging.
type run struct {
	phase phase
	log   *slog.Logger
}

func (r *run) transition(next phase) {
	r.log.Debug("composition phase", "from", string(r.phase), "to", string(next))
	r.phase = next
}
