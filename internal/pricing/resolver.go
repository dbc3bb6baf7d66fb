package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quote is a resolved USD unit price tagged with its source.
type Quote struct {
	Token  string
	Price  decimal.Decimal
	Source string
	At     time.Time
}

// Source supplies a USD unit price for one token.
type Source interface {
	Name() string
	Quote(ctx context.Context) (decimal.Decimal, error)
}

var errNonPositive = errors.New("source returned non-positive price")

// Options tune resolver behaviour.
type Options struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	CacheTTL  time.Duration
	Fallback  decimal.Decimal
}

// Resolver walks an ordered list of sources, retrying each with bounded
// exponential backoff, and returns the first strictly positive price.
// It never fails: when every source is exhausted it returns the configured
// fallback constant. Callers must treat the fallback as best effort, not
// as an error signal.
type Resolver struct {
	token   string
	sources []Source
	opts    Options
	logger  zerolog.Logger

	mu     sync.Mutex
	cached Quote
	now    func() time.Time
}

// NewResolver constructs a Resolver for a single token.
func NewResolver(token string, sources []Source, opts Options, logger zerolog.Logger) *Resolver {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 20 * time.Second
	}
	if !opts.Fallback.IsPositive() {
		panic("pricing: fallback price must be positive")
	}

	return &Resolver{
		token:   token,
		sources: sources,
		opts:    opts,
		logger:  logger.With().Str("component", "price_resolver").Str("token", token).Logger(),
		now:     time.Now,
	}
}

// Resolve returns a USD quote for the resolver's token.
func (r *Resolver) Resolve(ctx context.Context) Quote {
	if quote, ok := r.fresh(); ok {
		return quote
	}

	for _, src := range r.sources {
		price, err := r.attempt(ctx, src)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", src.Name()).Msg("price source failed, trying next")
			continue
		}

		quote := Quote{Token: r.token, Price: price, Source: src.Name(), At: r.now()}
		r.store(quote)
		r.logger.Debug().Str("source", src.Name()).Str("price", price.String()).Msg("price resolved")
		return quote
	}

	r.logger.Error().Str("fallback", r.opts.Fallback.String()).Msg("all price sources failed, using fallback constant")
	return Quote{Token: r.token, Price: r.opts.Fallback, Source: "fallback", At: r.now()}
}

func (r *Resolver) attempt(ctx context.Context, src Source) (decimal.Decimal, error) {
	delay := r.opts.BaseDelay
	var lastErr error

	for i := 0; i < r.opts.Attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return decimal.Decimal{}, err
			}
			delay *= 2
			if delay > r.opts.MaxDelay {
				delay = r.opts.MaxDelay
			}
		}

		price, err := src.Quote(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if !price.IsPositive() {
			lastErr = errNonPositive
			continue
		}
		return price, nil
	}

	return decimal.Decimal{}, fmt.Errorf("%s exhausted after %d attempts: %w", src.Name(), r.opts.Attempts, lastErr)
}

func (r *Resolver) fresh() (Quote, bool) {
	if r.opts.CacheTTL <= 0 {
		return Quote{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached.Price.IsPositive() && r.now().Sub(r.cached.At) < r.opts.CacheTTL {
		return r.cached, true
	}
	return Quote{}, false
}

func (r *Resolver) store(quote Quote) {
	r.mu.Lock()
	r.cached = quote
	r.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
