// Package pool manages the bounded set of live LSP Clients for each
// language, giving affinity-by-root reuse, idle reaping, and
// crash-restart backoff. Construction is grounded on the teacher's
// main.go boot sequence (saibing-bingo spawns and owns its langserver
// directly); here ownership is generalized into a per-language registry
// since this bridge speaks to many languages' servers concurrently.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcplsp/bridge/internal/lspclient"
	"github.com/willibrandon/mtlog/core"
	"golang.org/x/sync/errgroup"
)

// ErrNoServerAvailable is returned by Acquire when the pool already
// holds MaxServersPerLanguage entries and none of them is a ready client
// bound to the requested root; no spawn is attempted in that case.
var ErrNoServerAvailable = fmt.Errorf("pool: no server available")

// LanguageConfig is one language's pool policy plus the lspclient.Config
// template used to spawn new entries for it.
type LanguageConfig struct {
	Language              string
	ClientTemplate        lspclient.Config
	MaxServersPerLanguage int
	IdleTimeout           time.Duration
	CrashRestartDelay     time.Duration
}

func (lc LanguageConfig) withDefaults() LanguageConfig {
	if lc.MaxServersPerLanguage <= 0 {
		lc.MaxServersPerLanguage = 1
	}
	if lc.IdleTimeout <= 0 {
		lc.IdleTimeout = 10 * time.Minute
	}
	if lc.CrashRestartDelay <= 0 {
		lc.CrashRestartDelay = 2 * time.Second
	}
	return lc
}

// entry wraps one pooled Client with the bookkeeping the Pool needs to
// reap it: which root it's bound to, and when it was last used.
type entry struct {
	client     *lspclient.Client
	root       string
	lastUsed   time.Time
	spawnedAt  time.Time
	failCount  int
	nextSpawnOK time.Time
}

type spawnFunc func(context.Context, lspclient.Config, core.Logger, lspclient.OnCrash) (*lspclient.Client, error)

// Pool owns all entries for one language.
type Pool struct {
	cfg LanguageConfig
	log core.Logger

	// spawn defaults to lspclient.Spawn; tests substitute a fake to avoid
	// launching a real child process.
	spawn spawnFunc

	mu      sync.Mutex
	entries []*entry
}

// Registry is the set of per-language Pools the dispatcher and plan
// engine address by language name.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool
	log   core.Logger
}

// NewRegistry builds an empty Registry; languages are added via Configure.
func NewRegistry(log core.Logger) *Registry {
	return &Registry{pools: make(map[string]*Pool), log: log}
}

// Configure installs or replaces the pool policy for one language. It
// does not touch already-running entries for that language.
func (r *Registry) Configure(cfg LanguageConfig) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[cfg.Language]; ok {
		p.mu.Lock()
		p.cfg = cfg
		p.mu.Unlock()
		return
	}
	r.pools[cfg.Language] = &Pool{cfg: cfg, log: r.log, spawn: lspclient.Spawn}
}

// Pool returns the Pool for language, or nil if it was never configured.
func (r *Registry) Pool(language string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pools[language]
}

// Preload spawns one entry per configured language concurrently, for
// the languages named in roots (language -> workspace root), bounding
// fan-out with errgroup the way the teacher's tree preloads packages at
// startup rather than on first request.
func (r *Registry) Preload(ctx context.Context, roots map[string]string) error {
	r.mu.Lock()
	pools := make(map[string]*Pool, len(r.pools))
	for lang, p := range r.pools {
		pools[lang] = p
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for lang, p := range pools {
		lang, p := lang, p
		root, ok := roots[lang]
		if !ok {
			continue
		}
		g.Go(func() error {
			_, err := p.acquireNew(ctx, root)
			if err != nil {
				p.log.Warning("preload failed for {Language}: {Error}", lang, err)
				return nil // preload failures are non-fatal; first real request retries
			}
			return nil
		})
	}
	return g.Wait()
}

// Acquire returns a ready Client bound to root, reusing an existing
// entry when one exists for that root, spawning a new one (up to
// MaxServersPerLanguage) otherwise, and returning ErrNoServerAvailable
// when the pool is saturated with busy/crash-backoff entries.
func (p *Pool) Acquire(ctx context.Context, root string) (*lspclient.Client, error) {
	p.mu.Lock()
	for _, e := range p.entries {
		if e.root == root && e.client != nil && e.client.State() == lspclient.StateReady {
			e.lastUsed = time.Now()
			client := e.client
			p.mu.Unlock()
			return client, nil
		}
	}

	// Reap dead entries for this root before deciding whether there's
	// spawn headroom.
	p.reapLocked()

	var sameRootBackoff *entry
	count := 0
	for _, e := range p.entries {
		count++
		if e.root == root && time.Now().Before(e.nextSpawnOK) {
			sameRootBackoff = e
		}
	}
	if count < p.cfg.MaxServersPerLanguage {
		p.mu.Unlock()
		return p.acquireNew(ctx, root)
	}
	p.mu.Unlock()

	if sameRootBackoff != nil {
		return nil, fmt.Errorf("%w: %s in crash-restart backoff until %s",
			ErrNoServerAvailable, root, sameRootBackoff.nextSpawnOK.Format(time.RFC3339))
	}
	return nil, ErrNoServerAvailable
}

func (p *Pool) acquireNew(ctx context.Context, root string) (*lspclient.Client, error) {
	cfg := p.cfg.ClientTemplate
	cfg.Dir = root
	cfg.Language = p.cfg.Language

	e := &entry{root: root, spawnedAt: time.Now(), lastUsed: time.Now()}
	client, err := p.spawn(ctx, cfg, p.log, p.onCrash(e))
	if err != nil {
		p.mu.Lock()
		e.failCount++
		e.nextSpawnOK = time.Now().Add(p.cfg.CrashRestartDelay * time.Duration(backoffMultiplier(e.failCount)))
		p.entries = append(p.entries, e)
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: spawn %s: %w", p.cfg.Language, err)
	}

	e.client = client
	p.mu.Lock()
	p.entries = append(p.entries, e)
	p.mu.Unlock()
	return client, nil
}

func backoffMultiplier(failCount int) int {
	if failCount > 5 {
		return 32
	}
	m := 1
	for i := 1; i < failCount; i++ {
		m *= 2
	}
	return m
}

// onCrash is installed as the lspclient.OnCrash callback for entries
// this pool owns: it schedules the crash-restart backoff window rather
// than immediately respawning, so a persistently crashing server
// doesn't spin.
func (p *Pool) onCrash(e *entry) lspclient.OnCrash {
	return func(c *lspclient.Client, err error) {
		p.mu.Lock()
		e.failCount++
		e.nextSpawnOK = time.Now().Add(p.cfg.CrashRestartDelay * time.Duration(backoffMultiplier(e.failCount)))
		p.log.Warning("LSP client for {Language} crashed (attempt {FailCount}): {Error}",
			p.cfg.Language, e.failCount, err)
		p.mu.Unlock()
	}
}

// reapLocked removes terminated entries and entries idle longer than
// IdleTimeout. Callers must hold p.mu.
func (p *Pool) reapLocked() {
	now := time.Now()
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.client == nil {
			// A spawn-failed entry is kept only for its backoff window.
			if now.Before(e.nextSpawnOK) {
				kept = append(kept, e)
			}
			continue
		}
		switch e.client.State() {
		case lspclient.StateTerminated, lspclient.StateFailed:
			if now.Before(e.nextSpawnOK) {
				kept = append(kept, e)
			}
			continue
		case lspclient.StateCrashed:
			go func(c *lspclient.Client) { _ = c.Terminate(context.Background()) }(e.client)
			kept = append(kept, e)
			continue
		case lspclient.StateReady:
			if now.Sub(e.lastUsed) > p.cfg.IdleTimeout {
				go func(c *lspclient.Client) { _ = c.Terminate(context.Background()) }(e.client)
				continue
			}
		}
		kept = append(kept, e)
	}
	p.entries = kept
}

// Reap runs idle/crash reaping outside of an Acquire call. Nothing in
// this package or in main calls it on a schedule; otherwise reaping
// happens only when Acquire finds no ready client for the root.
func (p *Pool) Reap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reapLocked()
}

// Status reports the pool's current entries for the health.pool_status
// tool.
type Status struct {
	Language string
	Root     string
	State    string
	Age      time.Duration
}

// Status returns a snapshot of every entry this pool currently holds.
func (p *Pool) Status() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.entries))
	for _, e := range p.entries {
		state := "spawn-failed"
		if e.client != nil {
			state = e.client.State().String()
		}
		out = append(out, Status{
			Language: p.cfg.Language,
			Root:     e.root,
			State:    state,
			Age:      time.Since(e.spawnedAt),
		})
	}
	return out
}

// StatusAll reports every language's pool status, for the supplemented
// health.pool_status tool.
func (r *Registry) StatusAll() []Status {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	var all []Status
	for _, p := range pools {
		all = append(all, p.Status()...)
	}
	return all
}

// Shutdown terminates every entry across every language pool, for
// graceful process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		p.mu.Lock()
		entries := append([]*entry(nil), p.entries...)
		p.mu.Unlock()
		for _, e := range entries {
			if e.client == nil {
				continue
			}
			wg.Add(1)
			go func(c *lspclient.Client) {
				defer wg.Done()
				_ = c.Terminate(ctx)
			}(e.client)
		}
	}
	wg.Wait()
}
