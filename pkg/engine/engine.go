// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package engine coordinates IP ownership lookups: cache check, resolver
// chain, merge, optional geo enrichment, cache persist. It also fans
// lookups out over many IPs with bounded concurrency.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wingedpig/ipmeta/pkg/cache"
	"github.com/wingedpig/ipmeta/pkg/geo"
	"github.com/wingedpig/ipmeta/pkg/model"
	"github.com/wingedpig/ipmeta/pkg/normalize"
	"github.com/wingedpig/ipmeta/pkg/resolver"
	"github.com/wingedpig/ipmeta/pkg/util/workers"
)

// Config bundles everything the engine needs from the CLI layer.
type Config struct {
	Method       string // auto | rdap | dns-whois | system (primary/fallback aliases accepted)
	UseCache     bool
	CacheDir     string        // default: <user-cache-dir>/ipmeta
	CacheBackend string        // "file" (default) or "leveldb"
	CacheTTL     time.Duration // default cache.DefaultTTL
	Timeout      time.Duration // per resolver attempt
	RateLimit    time.Duration // overrides each resolver's default spacing
	MaxRetries   int
	WhoisPath    string
	RDAPBaseURL  string
	RegistryURL  string
	UserAgent    string
	GeoCityDB    string // optional MaxMind City mmdb path
	GeoASNDB     string // optional MaxMind ASN mmdb path

	// OnResult, when set, is called after each identity in a batch
	// resolves, success or failure.
	OnResult func(ip string, rec *model.Record, err error)
}

// Engine orchestrates lookups for one configured method.
type Engine struct {
	method    string
	resolvers []resolver.Resolver
	store     cache.Store
	geo       *geo.Readers
	onResult  func(ip string, rec *model.Record, err error)
}

// New builds an engine from the configuration. It fails on an unknown
// method or backend, or when an explicitly configured store or geo
// database cannot be opened.
func New(cfg Config) (*Engine, error) {
	method, err := resolver.CanonicalMethod(cfg.Method)
	if err != nil {
		return nil, err
	}

	resolvers, err := resolver.ForMethod(method, resolver.Config{
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		RateLimit:   cfg.RateLimit,
		WhoisPath:   cfg.WhoisPath,
		BaseURL:     cfg.RDAPBaseURL,
		RegistryURL: cfg.RegistryURL,
		UserAgent:   cfg.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	var store cache.Store
	if cfg.UseCache {
		dir := cfg.CacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		switch cfg.CacheBackend {
		case "", "file":
			store = cache.NewFileStore(dir, cfg.CacheTTL)
		case "leveldb":
			store, err = cache.OpenLevelDB(dir, cfg.CacheTTL)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
		}
	}

	readers, err := geo.Open(cfg.GeoCityDB, cfg.GeoASNDB)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &Engine{
		method:    method,
		resolvers: resolvers,
		store:     store,
		geo:       readers,
		onResult:  cfg.OnResult,
	}, nil
}

// Method returns the canonical lookup method label, which is also the
// cache key's method component.
func (e *Engine) Method() string {
	return e.method
}

// Lookup resolves ownership metadata for one IP. In auto mode every
// resolver in the chain is tried in priority order and all successes are
// merged, first resolver winning ties. In single-method mode the one
// resolver's failure propagates immediately.
func (e *Engine) Lookup(ctx context.Context, ip string) (*model.Record, error) {
	canon, err := model.CanonicalIP(ip)
	if err != nil {
		return nil, err
	}

	if e.store != nil {
		if rec := e.store.Get(canon, e.method); rec != nil {
			return rec, nil
		}
	}

	var results []*model.Record
	var reasons []string

	for _, r := range e.resolvers {
		log.Printf("INFO: Trying %s for %s", r.Name(), canon)
		rec, err := r.Lookup(ctx, canon)
		if err != nil {
			log.Printf("WARN: %s failed on %s: %v", r.Name(), canon, err)
			if e.method != resolver.MethodAuto {
				return nil, err
			}
			reasons = append(reasons, err.Error())
			continue
		}
		results = append(results, rec)
	}

	if len(results) == 0 {
		return nil, &model.AllFailedError{IP: canon, Reasons: reasons}
	}

	merged := results[0]
	if len(results) > 1 {
		merged = normalize.Merge(results)
	}

	if e.geo != nil {
		e.geo.Enrich(merged)
	}

	if e.store != nil {
		// A failed write is already logged by the store; the lookup
		// result is still good.
		e.store.Set(canon, e.method, merged)
	}

	return merged, nil
}

// Process looks up many IPs, sequentially or on a bounded worker pool.
// Invalid IPs are dropped with a warning before any lookup. One IP's
// failure never aborts the batch. Result order is input order when
// sequential and completion order when parallel.
func (e *Engine) Process(ctx context.Context, ips []string, parallel bool, maxWorkers int) *model.BatchOutcome {
	valid, dropped := model.FilterValidIPs(ips)
	for _, ip := range dropped {
		log.Printf("WARN: Skipping invalid IP: %q", ip)
	}

	outcome := &model.BatchOutcome{}
	if len(valid) == 0 {
		log.Printf("WARN: Found no valid IPs to process")
		return outcome
	}

	if parallel && len(valid) > 1 {
		log.Printf("INFO: Processing %d IPs in parallel with %d workers", len(valid), maxWorkers)
		e.processParallel(ctx, valid, maxWorkers, outcome)
	} else {
		log.Printf("INFO: Processing %d IPs sequentially", len(valid))
		e.processSequential(ctx, valid, outcome)
	}

	if len(outcome.Results) > 0 {
		log.Printf("INFO: Successfully processed %d IPs", len(outcome.Results))
	}
	if n := len(outcome.Failures); n > 0 {
		log.Printf("WARN: Failed to process %d IPs", n)
	}
	return outcome
}

func (e *Engine) processParallel(ctx context.Context, ips []string, maxWorkers int, outcome *model.BatchOutcome) {
	pool := workers.NewPool(ctx, maxWorkers)
	var mu sync.Mutex

	for i, ip := range ips {
		ip := ip
		pool.Submit(i, func(taskCtx context.Context) error {
			rec, err := e.Lookup(taskCtx, ip)

			mu.Lock()
			if err != nil {
				outcome.Failures = append(outcome.Failures, model.Failure{IP: ip, Reason: err.Error()})
			} else {
				outcome.Results = append(outcome.Results, rec)
			}
			mu.Unlock()

			e.notify(ip, rec, err)
			return err
		})
	}
	pool.Wait()
}

func (e *Engine) processSequential(ctx context.Context, ips []string, outcome *model.BatchOutcome) {
	for _, ip := range ips {
		if ctx.Err() != nil {
			log.Printf("WARN: Interrupted, skipping remaining IPs")
			return
		}

		rec, err := e.Lookup(ctx, ip)
		if err != nil {
			log.Printf("ERROR: Failed to process %s: %v", ip, err)
			outcome.Failures = append(outcome.Failures, model.Failure{IP: ip, Reason: err.Error()})
		} else {
			outcome.Results = append(outcome.Results, rec)
		}
		e.notify(ip, rec, err)
	}
}

func (e *Engine) notify(ip string, rec *model.Record, err error) {
	if e.onResult != nil {
		e.onResult(ip, rec, err)
	}
}

// CleanCache removes expired cache entries, returning how many were
// deleted. With caching disabled it warns and returns 0.
func (e *Engine) CleanCache() int {
	if e.store == nil {
		log.Printf("WARN: Cache is disabled, cannot clean")
		return 0
	}
	return e.store.CleanExpired()
}

// Close releases the cache store and geo database readers.
func (e *Engine) Close() error {
	var err error
	if e.store != nil {
		err = e.store.Close()
	}
	if e.geo != nil {
		if gerr := e.geo.Close(); gerr != nil && err == nil {
			err = gerr
		}
	}
	return err
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ".ipmeta-cache"
	}
	return filepath.Join(base, "ipmeta")
}
