// Package resolver implements the pluggable lookup strategies that acquire
// raw ownership data for an IP address. Every variant shares the same
// contract: validate, rate-limit, attempt with retries, normalize.
package resolver

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/wingedpig/ipmeta/pkg/model"
	"github.com/wingedpig/ipmeta/pkg/normalize"
)

// Default request spacing per resolver. The reverse-DNS and system paths are
// best-effort, so they get wider intervals than the registry path.
const (
	DefaultRDAPInterval     = 1 * time.Second
	DefaultDNSWhoisInterval = 1500 * time.Millisecond
	DefaultSystemInterval   = 2 * time.Second

	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = 2 * time.Second
)

// Resolver produces a normalized record for one IP from one data source.
type Resolver interface {
	// Name returns the source label recorded in Record.Source.
	Name() string

	// Lookup resolves ownership metadata for ip. It fails fast with
	// model.ErrInvalidIP on a malformed address and returns a
	// *model.LookupError once retries are exhausted.
	Lookup(ctx context.Context, ip string) (*model.Record, error)
}

// Config carries per-resolver tuning. Zero values select defaults.
type Config struct {
	Timeout     time.Duration // bound on each network/subprocess attempt
	MaxRetries  int           // retries after the first attempt
	RateLimit   time.Duration // minimum spacing between requests
	RetryDelay  time.Duration // base backoff delay between attempts
	WhoisPath   string        // system whois binary
	BaseURL     string        // RDAP endpoint override
	RegistryURL string        // registry whois-fallback endpoint override
	UserAgent   string
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// base holds the state shared by all resolver variants: the per-instance
// rate limiter and the retry policy. The limiter serializes this instance's
// outbound requests; instances shared across goroutines get approximate
// spacing rather than exact.
type base struct {
	name       string
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

func newBase(name string, interval time.Duration, cfg Config) base {
	if cfg.RateLimit > 0 {
		interval = cfg.RateLimit
	}
	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return base{
		name:       name,
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		retryDelay: delay,
	}
}

func (b *base) Name() string {
	return b.name
}

// run executes the common lookup flow around a variant's perform function:
// validate the IP, then for each attempt wait on the rate limiter, call
// perform, and back off linearly (attempt number times the base delay) on
// failure. Exhaustion wraps the last error in a LookupError. On success the
// raw payload is guaranteed an "ip" key and normalized under this
// resolver's label.
func (b *base) run(ctx context.Context, ip string, perform func(ctx context.Context, ip string) (model.RawData, error)) (*model.Record, error) {
	canon, err := model.CanonicalIP(ip)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, &model.LookupError{Resolver: b.name, Err: err}
			}
		}

		raw, err := perform(ctx, canon)
		if err == nil {
			if _, ok := raw["ip"]; !ok {
				raw["ip"] = canon
			}
			return normalize.Normalize(raw, b.name), nil
		}
		lastErr = err

		// Reserved addresses never resolve; retrying is pointless.
		if errors.Is(err, model.ErrReservedIP) {
			break
		}

		if attempt < b.maxRetries {
			backoff := time.Duration(attempt+1) * b.retryDelay
			log.Printf("WARN: Lookup failed for %s using %s: %v. Retrying (%d/%d)", canon, b.name, err, attempt+1, b.maxRetries)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &model.LookupError{Resolver: b.name, Err: ctx.Err()}
			}
		}
	}

	return nil, &model.LookupError{Resolver: b.name, Err: lastErr}
}
