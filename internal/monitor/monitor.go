package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-buy-alerts/internal/alerting"
	"token-buy-alerts/internal/explorer"
	"token-buy-alerts/internal/ledger"
	"token-buy-alerts/internal/notifier"
	"token-buy-alerts/internal/pricing"
	"token-buy-alerts/internal/scheduler"
	"token-buy-alerts/internal/storage"
)

// State reports whether the polling loop is active.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("monitor: already tracking")

// TransferSource supplies on-chain buy candidates and token context.
type TransferSource interface {
	RecentTransfers(ctx context.Context) []explorer.Transfer
	TokenSupply(ctx context.Context) decimal.Decimal
	BalanceAtBlock(ctx context.Context, address string, block int64) (decimal.Decimal, error)
}

// TokenPricer resolves the token's USD price.
type TokenPricer interface {
	Resolve(ctx context.Context) pricing.Quote
}

// Options tune the monitor loop.
type Options struct {
	PollInterval    time.Duration
	StartupDelay    time.Duration
	ErrorBufferSize int
	TokenDecimals   int
}

// Snapshot is a point-in-time view of monitor state.
type Snapshot struct {
	State        State
	Since        time.Time
	LastCycle    time.Time
	Cycles       int64
	AlertsSent   int64
	LedgerSize   int
	RecentErrors []string
}

// Monitor polls the explorer for fresh buys, prices them, renders alerts
// and delivers them at most once per transaction hash.
type Monitor struct {
	opts      Options
	source    TransferSource
	pricer    TokenPricer
	ledger    *ledger.Ledger
	formatter *alerting.Formatter
	notifier  notifier.Notifier
	alerts    storage.AlertStore
	logger    zerolog.Logger

	mu        sync.Mutex
	state     State
	since     time.Time
	lastCycle time.Time
	cycles    int64
	sent      int64
	errRing   []string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New constructs an idle Monitor. The alert store may be nil.
func New(opts Options, source TransferSource, pricer TokenPricer, led *ledger.Ledger, formatter *alerting.Formatter, sink notifier.Notifier, alerts storage.AlertStore, logger zerolog.Logger) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.ErrorBufferSize <= 0 {
		opts.ErrorBufferSize = 5
	}
	if opts.TokenDecimals <= 0 {
		opts.TokenDecimals = 18
	}
	return &Monitor{
		opts:      opts,
		source:    source,
		pricer:    pricer,
		ledger:    led,
		formatter: formatter,
		notifier:  sink,
		alerts:    alerts,
		logger:    logger.With().Str("component", "monitor").Logger(),
		state:     StateIdle,
	}
}

// Start launches the polling loop. It returns ErrAlreadyRunning if the
// loop is active.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateRunning
	m.since = time.Now().UTC()

	sched := scheduler.New(scheduler.Options{
		Interval:     m.opts.PollInterval,
		StartupDelay: m.opts.StartupDelay,
		RunAtStart:   true,
	}, m.logger)

	go func() {
		defer close(m.done)
		err := sched.Run(runCtx, func(ctx context.Context, at time.Time) error {
			return m.Cycle(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Msg("polling loop exited")
		}
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
	}()

	m.logger.Info().Dur("interval", m.opts.PollInterval).Msg("tracking started")
	return nil
}

// Stop halts the polling loop and waits for the in-flight cycle.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info().Msg("tracking stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning
}

// Status returns a snapshot for operator commands.
func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := make([]string, len(m.errRing))
	copy(errs, m.errRing)
	return Snapshot{
		State:        m.state,
		Since:        m.since,
		LastCycle:    m.lastCycle,
		Cycles:       m.cycles,
		AlertsSent:   m.sent,
		LedgerSize:   m.ledger.Len(),
		RecentErrors: errs,
	}
}

// Cycle runs one poll iteration: fetch, dedup, price, render, deliver.
// A hash is marked seen only after its alert was delivered, or when the
// render decided to suppress it, so a delivery failure is retried on the
// next cycle.
func (m *Monitor) Cycle(ctx context.Context) error {
	m.mu.Lock()
	m.cycles++
	m.lastCycle = time.Now().UTC()
	m.mu.Unlock()

	if err := m.ledger.Reload(); err != nil {
		m.recordErr("ledger reload: " + err.Error())
		return err
	}

	transfers := m.source.RecentTransfers(ctx)

	fresh := transfers[:0:0]
	for _, tr := range transfers {
		if !m.ledger.Seen(tr.Hash) {
			fresh = append(fresh, tr)
		}
	}
	if len(fresh) == 0 {
		m.logger.Debug().Int("fetched", len(transfers)).Msg("no fresh buys")
		return nil
	}

	// Oldest first so alerts arrive in chain order.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Block < fresh[j].Block })

	quote := m.pricer.Resolve(ctx)
	supply := m.source.TokenSupply(ctx)
	marketCap := supply.Mul(quote.Price)

	var firstErr error
	for _, tr := range fresh {
		msg, ok := m.formatter.Format(tr, quote, alerting.Extras{
			MarketCap:        marketCap,
			HoldingChangePct: m.holdingChange(ctx, tr),
		})
		if !ok {
			// Below the alert floor: remember it so it is never revisited.
			if err := m.ledger.MarkSeen(tr.Hash); err != nil {
				m.recordErr("mark seen: " + err.Error())
			}
			continue
		}

		if err := m.notifier.Emit(ctx, msg); err != nil {
			m.recordErr("emit " + tr.Hash + ": " + err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := m.ledger.MarkSeen(tr.Hash); err != nil {
			m.recordErr("mark seen: " + err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}

		m.mu.Lock()
		m.sent++
		m.mu.Unlock()

		m.audit(ctx, tr, msg, quote)

		m.logger.Info().
			Str("hash", tr.Hash).
			Str("category", string(msg.Category)).
			Str("usd", msg.USDValue.StringFixed(2)).
			Msg("alert sent")
	}

	return firstErr
}

// holdingChange compares the buyer's balance before the purchase with
// the purchased amount. Nil means the figure is unavailable and the
// alert omits the line.
func (m *Monitor) holdingChange(ctx context.Context, tr explorer.Transfer) *decimal.Decimal {
	if tr.Block <= 0 {
		return nil
	}
	before, err := m.source.BalanceAtBlock(ctx, tr.To, tr.Block-1)
	if err != nil {
		m.logger.Debug().Err(err).Str("buyer", tr.To).Msg("holding lookup failed")
		return nil
	}
	if !before.IsPositive() {
		return nil
	}
	amount := decimal.NewFromBigInt(tr.RawAmount, -int32(m.opts.TokenDecimals))
	pct := amount.Div(before).Mul(decimal.NewFromInt(100))
	return &pct
}

func (m *Monitor) audit(ctx context.Context, tr explorer.Transfer, msg alerting.Message, quote pricing.Quote) {
	if m.alerts == nil {
		return
	}
	amount := decimal.NewFromBigInt(tr.RawAmount, -int32(m.opts.TokenDecimals))
	_, err := m.alerts.InsertAlert(ctx, storage.AlertRecord{
		Hash:        tr.Hash,
		Buyer:       tr.To,
		TokenAmount: amount,
		USDValue:    msg.USDValue,
		Price:       quote.Price,
		PriceSource: quote.Source,
		Category:    string(msg.Category),
		TxTime:      time.Unix(tr.Time, 0).UTC(),
	})
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		m.recordErr("audit insert: " + err.Error())
	}
}

func (m *Monitor) recordErr(msg string) {
	m.logger.Warn().Msg(msg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errRing = append(m.errRing, time.Now().UTC().Format(time.RFC3339)+" "+msg)
	if len(m.errRing) > m.opts.ErrorBufferSize {
		m.errRing = m.errRing[len(m.errRing)-m.opts.ErrorBufferSize:]
	}
}
