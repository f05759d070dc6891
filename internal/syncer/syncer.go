// Package syncer implements the cooperative, event-driven sync loop
// spec.md §4.2 describes: periodic ticks and MQTT-driven kicks coalesce
// into at most one sync pass in flight, with at most one pending
// follow-up, grounded directly on Resinat-Resin's
// internal/state.CacheFlushWorker (ticker + pending flag + final flush on
// stop).
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miruml/agent/internal/activity"
	"github.com/miruml/agent/internal/agenterr"
	"github.com/miruml/agent/internal/cache"
	"github.com/miruml/agent/internal/deploy"
	"github.com/miruml/agent/internal/httpclient"
	"github.com/miruml/agent/internal/model"
)

// Config bundles the syncer's tunables, sourced from internal/config.EnvConfig.
type Config struct {
	Interval          time.Duration
	CronSchedule      string
	PushConcurrency   int
	ShutdownDeadline  time.Duration
	Cooldown          Cooldown
}

// Syncer drives dirty-entry flushing and backend pulls.
type Syncer struct {
	cfg      Config
	caches   *cache.Registry
	client   *httpclient.Client
	bus      *deploy.Bus
	tracker  *activity.Tracker

	mu      sync.Mutex
	running bool
	pending bool

	failuresMu sync.Mutex
	failures   map[string]retryState

	stopCh chan struct{}
	wg     sync.WaitGroup
	cr     *cron.Cron
}

// retryState tracks a dirty entry's transient-failure streak and the
// earliest time it's next eligible for a push attempt, per spec.md §4.2's
// "schedule retry with exponential cooldown".
type retryState struct {
	attempts int
	retryAt  time.Time
}

// New builds a Syncer. client must already be wired with a TokenProvider.
func New(cfg Config, caches *cache.Registry, client *httpclient.Client, bus *deploy.Bus, tracker *activity.Tracker) *Syncer {
	return &Syncer{
		cfg:      cfg,
		caches:   caches,
		client:   client,
		bus:      bus,
		tracker:  tracker,
		failures: make(map[string]retryState),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic ticker, the cron schedule, and waits for
// kicks.
func (s *Syncer) Start() error {
	s.wg.Add(1)
	go s.tick()

	s.cr = cron.New()
	if _, err := s.cr.AddFunc(s.cfg.CronSchedule, s.Kick); err != nil {
		return err
	}
	s.cr.Start()
	return nil
}

func (s *Syncer) tick() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Kick()
		}
	}
}

// Kick requests a sync pass. If a pass is already running, it marks a
// single pending follow-up rather than starting a second concurrent pass.
func (s *Syncer) Kick() {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.runUntilDry()
}

func (s *Syncer) runUntilDry() {
	for {
		if err := s.Pass(context.Background()); err != nil {
			log.Printf("[syncer] pass error: %v", err)
		}
		s.mu.Lock()
		if s.pending {
			s.pending = false
			s.mu.Unlock()
			continue
		}
		s.running = false
		s.mu.Unlock()
		return
	}
}

// Shutdown stops the ticker and cron schedule, waits for any in-flight
// pass to finish (bounded by ctx), then performs one final pass bounded by
// the same context. Operations interrupted by the deadline remain dirty on
// disk and are retried on next start.
func (s *Syncer) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	if s.cr != nil {
		cronCtx := s.cr.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	waitCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			s.mu.Lock()
			r := s.running
			s.mu.Unlock()
			if !r {
				close(waitCh)
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				close(waitCh)
				return
			}
		}
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
	}

	return s.Pass(ctx)
}

// Pass runs one sync pass over every managed cache, per spec.md §4.2:
// push each cache's dirty entries (bounded concurrency), then pull
// authoritative state for the keys the backend indicates are newer. Only
// ConfigInstances has a push side — Schemas, Digests, and ConcreteConfigs
// are backend-authoritative and are only ever pulled.
func (s *Syncer) Pass(ctx context.Context) error {
	s.pushConfigInstances(ctx)
	if err := s.pullAll(ctx); err != nil {
		log.Printf("[syncer] pull error: %v", err)
	}
	s.tracker.Touch()
	return nil
}

func (s *Syncer) pushConfigInstances(ctx context.Context) {
	dirty := s.caches.ConfigInstances.DirtyEntries()
	if len(dirty) == 0 {
		return
	}

	sem := make(chan struct{}, s.pushConcurrency())
	var wg sync.WaitGroup
	for _, rec := range dirty {
		rec := rec
		if !s.eligibleForRetry(rec.Key.Render()) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.pushOne(ctx, rec)
		}()
	}
	wg.Wait()
}

// eligibleForRetry reports whether key's cooldown (if any) has elapsed.
func (s *Syncer) eligibleForRetry(key string) bool {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	st, ok := s.failures[key]
	return !ok || !time.Now().Before(st.retryAt)
}

// pullAll implements spec.md §4.2 step 4 for every managed cache.
// ConfigInstances has its own list endpoint, so it is refreshed directly;
// Schemas, Digests, and ConcreteConfigs have no list endpoint of their own
// and are keyed by (config_type_slug, schema_digest), so the set of pairs
// referenced by the freshly-pulled config instances drives which of those
// three get refreshed. This also covers MQTT-delivered invalidations: a
// Sync message just kicks the syncer, and the next pass re-pulls the full
// instance list rather than tracking individual invalidated keys.
func (s *Syncer) pullAll(ctx context.Context) error {
	pairs, err := s.pullConfigInstances(ctx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, s.pushConcurrency())
	var wg sync.WaitGroup
	for pair := range pairs {
		pair := pair
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.pullSchemaFamily(ctx, pair.ConfigTypeSlug, pair.SchemaDigest)
		}()
	}
	wg.Wait()
	return nil
}

// pullConfigInstances lists every config instance the backend knows about
// and applies any that are new or newer than the local copy. It returns
// the set of (config_type_slug, schema_digest) pairs the listed instances
// reference, so the caller can refresh the schema/digest/concrete-config
// families those instances depend on.
func (s *Syncer) pullConfigInstances(ctx context.Context) (map[cache.SchemaKey]struct{}, error) {
	pairs := make(map[cache.SchemaKey]struct{})
	offset := 0
	for {
		page, err := s.client.ListConfigInstances(ctx, httpclient.Pagination{
			Limit:  httpclient.MaxPaginateLimit,
			Offset: offset,
		}, "", nil)
		if err != nil {
			return pairs, err
		}
		for _, remote := range page {
			pairs[cache.SchemaKey{ConfigTypeSlug: remote.ConfigTypeSlug, SchemaDigest: remote.SchemaDigest}] = struct{}{}
			s.applyRemoteInstance(ctx, remote)
		}
		if len(page) < httpclient.MaxPaginateLimit {
			return pairs, nil
		}
		offset += len(page)
	}
}

// applyRemoteInstance writes remote into the config-instance cache with
// mark_dirty=false when it is new or newer than what's cached locally, then
// notifies the deploy observer bus per spec.md §4.2 step 5 — scoped to the
// config-instance cache only, not the schema/digest/concrete-config pulls.
func (s *Syncer) applyRemoteInstance(ctx context.Context, remote model.ConfigInstance) {
	key := cache.InstanceKey{ID: remote.ID}
	if local, ok := s.caches.ConfigInstances.Read(key); ok && !remote.UpdatedAt.After(local.UpdatedAt) {
		return
	}
	if err := s.caches.ConfigInstances.Write(key, remote, false); err != nil {
		log.Printf("[syncer] pull write config instance %s: %v", key.Render(), err)
		return
	}
	if s.bus != nil {
		if err := s.bus.Notify(ctx, remote); err != nil {
			log.Printf("[syncer] observer notify %s: %v", key.Render(), err)
		}
	}
}

// pullSchemaFamily refreshes the schema, digest pair, and concrete config
// for one (config_type_slug, schema_digest) pair. Each sub-pull is
// independent and best-effort: a failure on one leaves that cache entry as
// it was and is logged, not propagated, so one bad type slug can't block
// the others.
func (s *Syncer) pullSchemaFamily(ctx context.Context, typeSlug, digest string) {
	schemaKey := cache.SchemaKey{ConfigTypeSlug: typeSlug, SchemaDigest: digest}

	schema, err := s.client.PullConfigSchema(ctx, typeSlug, digest)
	if err != nil {
		log.Printf("[syncer] pull schema %s: %v", schemaKey.Render(), err)
	} else if !schema.MatchesConfigTypeAndDigest(typeSlug, digest) {
		log.Printf("[syncer] pull schema %s: backend returned mismatched type/digest %s/%s", schemaKey.Render(), schema.ConfigTypeSlug, schema.Digest)
	} else if local, ok := s.caches.Schemas.Read(schemaKey); !ok || schema.UpdatedAt.After(local.UpdatedAt) {
		if werr := s.caches.Schemas.Write(schemaKey, schema, false); werr != nil {
			log.Printf("[syncer] write schema %s: %v", schemaKey.Render(), werr)
		}
	}

	digests, err := s.client.PullDigests(ctx, typeSlug)
	if err != nil {
		log.Printf("[syncer] pull digests %s: %v", typeSlug, err)
	} else {
		digestKey := cache.DigestKey{ConfigTypeSlug: typeSlug}
		if werr := s.caches.Digests.Write(digestKey, digests, false); werr != nil {
			log.Printf("[syncer] write digests %s: %v", typeSlug, werr)
		}
	}

	concrete, err := s.client.PullConcreteConfig(ctx, typeSlug, digest)
	if err != nil {
		log.Printf("[syncer] pull concrete config %s: %v", schemaKey.Render(), err)
		return
	}
	concreteKey := cache.ConcreteConfigKey{ConfigTypeSlug: typeSlug, SchemaDigest: digest}
	if local, ok := s.caches.ConcreteConfigs.Read(concreteKey); !ok || concrete.UpdatedAt.After(local.UpdatedAt) {
		if werr := s.caches.ConcreteConfigs.Write(concreteKey, concrete, false); werr != nil {
			log.Printf("[syncer] write concrete config %s: %v", concreteKey.Render(), werr)
		}
	}
}

func (s *Syncer) pushConcurrency() int {
	if s.cfg.PushConcurrency > 0 {
		return s.cfg.PushConcurrency
	}
	return 4
}

func (s *Syncer) pushOne(ctx context.Context, rec cache.DirtyRecord[cache.InstanceKey, model.ConfigInstance]) {
	key := rec.Key
	pushed, err := s.client.PushConfigInstance(ctx, rec.Value)
	if err == nil {
		if _, merr := s.caches.ConfigInstances.MarkClean(key, rec.Value); merr != nil {
			log.Printf("[syncer] mark_clean %s: %v", key.Render(), merr)
		}
		if s.bus != nil {
			if nerr := s.bus.Notify(ctx, pushed); nerr != nil {
				log.Printf("[syncer] observer notify %s: %v", key.Render(), nerr)
			}
		}
		s.resetFailures(key.Render())
		return
	}

	switch {
	case agenterr.Is(err, agenterr.KindHTTPPermanent):
		s.caches.ConfigInstances.Quarantine(key, err.Error())
		s.resetFailures(key.Render())
	case agenterr.Is(err, agenterr.KindHTTPAuth):
		// The entry is left dirty with no cooldown recorded, so the next
		// pass pushes it again. The token manager is not told to refresh:
		// that push uses whatever token GetToken returns, which is the same
		// cached token until it nears expiry.
		log.Printf("[syncer] auth error pushing %s, will retry: %v", key.Render(), err)
	default:
		attempt, delay := s.bumpFailures(key.Render())
		log.Printf("[syncer] transient error pushing %s (attempt %d, retry in %s): %v", key.Render(), attempt, delay, err)
	}
}

// bumpFailures records a transient failure for key and sets its next
// eligible retry time, so pushConfigInstances skips it until the cooldown
// elapses instead of resubmitting it on every tick/kick.
func (s *Syncer) bumpFailures(key string) (attempt int, delay time.Duration) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	attempt = s.failures[key].attempts
	delay = s.cfg.Cooldown.Delay(attempt)
	s.failures[key] = retryState{attempts: attempt + 1, retryAt: time.Now().Add(delay)}
	return attempt, delay
}

func (s *Syncer) resetFailures(key string) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	delete(s.failures, key)
}
