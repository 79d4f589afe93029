// Package engine wires the pipeline together: ticks in, candles built,
// patterns scanned, signals scored, shielded, sized, perturbed, dispatched.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"strikebot-go/internal/bridge"
	"strikebot-go/internal/candle"
	"strikebot-go/internal/config"
	"strikebot-go/internal/detect"
	"strikebot-go/internal/dispatch"
	"strikebot-go/internal/metrics"
	"strikebot-go/internal/risk"
	"strikebot-go/internal/score"
	"strikebot-go/internal/shield"
	"strikebot-go/internal/signal"
	"strikebot-go/internal/stealth"
	"strikebot-go/internal/util"
)

// ErrUnknownSignal is returned when approving a signal id with no held alert.
var ErrUnknownSignal = errors.New("engine: no held alert for signal id")

// TickSource is the inbound quote stream; the feed package satisfies it.
type TickSource interface {
	Run(ctx context.Context, out chan<- signal.Tick) error
}

// Bridge is the execution-terminal link the engine both sends through and
// listens to.
type Bridge interface {
	dispatch.Sender
	Heartbeats() <-chan signal.Heartbeat
	Confirmations() <-chan bridge.Confirmation
}

// heldAlert is a manual-tier signal parked until approval or expiry.
type heldAlert struct {
	bundle    signal.AlertBundle
	expiresAt time.Time
}

// Engine owns the stage plumbing and the per-run account context. One Engine
// exists per process.
type Engine struct {
	cfg     *config.Config
	log     zerolog.Logger
	agg     *candle.Aggregator
	scan    *detect.Engine
	scorer  *score.Scorer
	shield  *shield.Assessor
	gate    *risk.Gate
	planner *stealth.Planner
	disp    *dispatch.Dispatcher
	feed    TickSource
	bridge  Bridge

	timeframes []time.Duration

	mu      sync.Mutex
	account risk.Account
	spreads map[string]float64 // latest spread per symbol, in pips
	held    map[string]heldAlert
	now     func() time.Time

	alerts chan signal.AlertBundle
}

// New assembles every stage from the loaded configuration.
func New(cfg *config.Config, feed TickSource, br Bridge, src stealth.Source, root zerolog.Logger) *Engine {
	timeframes := cfg.Timeframes()
	agg := candle.NewAggregator(timeframes, cfg.Feed.WindowSize)

	detectors := detect.Build(detect.Params{
		Lookback:        cfg.Detect.Lookback,
		SweepMinPips:    cfg.Detect.SweepMinPips,
		SweepVolumeMult: cfg.Detect.SweepVolumeMult,
		SweepBaseScore:  cfg.Detect.SweepBaseScore,
		BlockBaseScore:  cfg.Detect.BlockBaseScore,
		GapMinPips:      cfg.Detect.GapMinPips,
		GapBaseScore:    cfg.Detect.GapBaseScore,
	})
	scan := detect.NewEngine(
		detectors, agg, timeframes[0],
		time.Duration(cfg.Detect.ScanIntervalSecs)*time.Second,
		time.Duration(cfg.Detect.CooldownSecs)*time.Second,
		util.ComponentLogger(root, "detect"),
	)

	ledger := risk.NewLedger(mustLocation(cfg.Risk.Timezone))
	slots := stealth.NewSlots(cfg.Stealth.MaxPerSymbol, cfg.Stealth.MaxTotal)
	breaker := dispatch.NewBreaker(
		cfg.Bridge.BreakerThreshold,
		time.Duration(cfg.Bridge.BreakerCooldown)*time.Second,
	)
	disp := dispatch.NewDispatcher(
		br, ledger, slots, breaker,
		cfg.Bridge.SendsPerSecond,
		cfg.Bridge.TargetIdentity,
		time.Duration(cfg.Bridge.ConfirmTimeoutSec)*time.Second,
		util.ComponentLogger(root, "dispatch"),
	)

	return &Engine{
		cfg:        cfg,
		log:        util.ComponentLogger(root, "engine"),
		agg:        agg,
		scan:       scan,
		scorer:     score.NewScorer(cfg.Score, util.ComponentLogger(root, "score")),
		shield:     shield.NewAssessor(cfg.Shield.RejectFloor, time.Duration(cfg.Shield.NewsBufferMin)*time.Minute, util.ComponentLogger(root, "shield")),
		gate:       risk.NewGate(cfg.Risk, ledger, util.ComponentLogger(root, "risk")),
		planner:    stealth.NewPlanner(cfg.Stealth, src, util.ComponentLogger(root, "stealth")),
		disp:       disp,
		feed:       feed,
		bridge:     br,
		timeframes: timeframes,
		spreads:    make(map[string]float64),
		held:       make(map[string]heldAlert),
		now:        time.Now,
		alerts:     make(chan signal.AlertBundle, 16),
	}
}

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC // Validate already rejected bad zones
	}
	return loc
}

// Alerts delivers manual-tier bundles awaiting Approve.
func (e *Engine) Alerts() <-chan signal.AlertBundle { return e.alerts }

// Run drives every stage until the context is canceled. Tick ingestion,
// scanning, and bridge consumption run on independent goroutines so a slow
// stage never stalls the others.
func (e *Engine) Run(ctx context.Context) error {
	ticks := make(chan signal.Tick, 1024)
	matches := make(chan signal.PatternMatch, 64)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.feed.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			e.log.Error().Err(err).Msg("tick feed stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticks:
				e.observeSpread(tick)
				e.agg.Ingest(tick)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.scan.Run(ctx, e.cfg.Feed.Symbols, matches)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case hb := <-e.bridge.Heartbeats():
				e.setAccount(hb)
				e.disp.OnHeartbeat(hb)
			case conf := <-e.bridge.Confirmations():
				e.disp.OnConfirmation(conf.FireID, conf.Ticket)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.disp.SweepTimeouts()
				e.expireAlerts()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case match := <-matches:
			wg.Add(1)
			go func(m signal.PatternMatch) {
				defer wg.Done()
				e.process(ctx, m)
			}(match)
		}
	}
}

// process walks one match through score, shield, risk, and stealth, then
// either dispatches or parks it for manual approval. Every early return is a
// normal outcome for the pipeline, not an error.
func (e *Engine) process(ctx context.Context, match signal.PatternMatch) {
	mktCtx := e.marketContext(match.Symbol)

	scored := e.scorer.Score(match, mktCtx)
	if scored == nil {
		return
	}

	assessment := e.shield.Assess(*scored, e.shieldInputs(*scored, mktCtx))
	if !assessment.Approved {
		return
	}

	decision := e.gate.Evaluate(
		*scored, e.accountSnapshot(),
		e.cfg.Risk.AccountTier, e.cfg.Risk.DefaultRiskPct,
		assessment.SizeMultiplier,
	)
	if !decision.Approved {
		return
	}

	plan := e.planner.Plan(scored.ID)
	bundle := signal.AlertBundle{Signal: *scored, Shield: assessment, Decision: decision, Plan: plan}

	tier := e.cfg.Risk.Tiers[e.cfg.Risk.AccountTier]
	if tier.AutoFire {
		e.fire(ctx, bundle)
		return
	}
	e.hold(bundle)
}

func (e *Engine) fire(ctx context.Context, bundle signal.AlertBundle) {
	if _, err := e.disp.Dispatch(ctx, bundle.Signal, bundle.Decision, bundle.Plan); err != nil {
		e.log.Info().Err(err).Str("id", bundle.Signal.ID).Msg("dispatch declined")
	}
}

// hold parks a manual-tier bundle and pushes the alert to the consumer. A
// consumer that falls behind loses oldest-unread alerts; the expiry sweep
// cleans up their reservations.
func (e *Engine) hold(bundle signal.AlertBundle) {
	expiry := time.Duration(e.cfg.Risk.AlertExpirySecs) * time.Second
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	e.mu.Lock()
	e.held[bundle.Signal.ID] = heldAlert{bundle: bundle, expiresAt: e.now().Add(expiry)}
	e.mu.Unlock()

	select {
	case e.alerts <- bundle:
	default:
		e.log.Warn().Str("id", bundle.Signal.ID).Msg("alert channel full, consumer lagging")
	}
}

// Approve releases a held manual-tier signal for dispatch.
func (e *Engine) Approve(ctx context.Context, signalID string) error {
	e.mu.Lock()
	alert, ok := e.held[signalID]
	if ok {
		delete(e.held, signalID)
	}
	e.mu.Unlock()
	if !ok {
		return ErrUnknownSignal
	}
	if e.now().After(alert.expiresAt) {
		metrics.RejectionsTotal.WithLabelValues("engine", "alert-expired").Inc()
		return ErrUnknownSignal
	}
	e.fire(ctx, alert.bundle)
	return nil
}

// HeldAlerts reports how many manual-tier signals await approval.
func (e *Engine) HeldAlerts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.held)
}

func (e *Engine) expireAlerts() {
	cutoff := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, alert := range e.held {
		if cutoff.After(alert.expiresAt) {
			delete(e.held, id)
			metrics.RejectionsTotal.WithLabelValues("engine", "alert-expired").Inc()
			e.log.Info().Str("id", id).Msg("held alert expired unapproved")
		}
	}
}

func (e *Engine) setAccount(hb signal.Heartbeat) {
	e.mu.Lock()
	e.account = risk.Account{Balance: hb.Balance, Equity: hb.Equity}
	e.mu.Unlock()
}

func (e *Engine) accountSnapshot() risk.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

func (e *Engine) observeSpread(tick signal.Tick) {
	if tick.Symbol == "" || tick.Bid <= 0 || tick.Ask <= tick.Bid {
		return
	}
	e.mu.Lock()
	e.spreads[tick.Symbol] = signal.Pips(tick.Symbol, tick.Spread())
	e.mu.Unlock()
}

func (e *Engine) lastSpread(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spreads[symbol]
}

// marketContext summarizes current conditions for the scorer: trend on the
// two fastest timeframes, relative volume, spread, and mean candle range.
func (e *Engine) marketContext(symbol string) score.Context {
	short := e.agg.Window(symbol, e.timeframes[0])
	medium := short
	if len(e.timeframes) > 1 {
		medium = e.agg.Window(symbol, e.timeframes[1])
	}

	mktCtx := score.Context{
		ShortTrend:  trend(short),
		MediumTrend: trend(medium),
		SpreadPips:  e.lastSpread(symbol),
	}
	if len(short) > 0 {
		last := short[len(short)-1]
		var volSum, rangeSum float64
		for _, c := range short {
			volSum += c.Volume
			rangeSum += signal.Pips(symbol, c.Range())
		}
		avgVol := volSum / float64(len(short))
		if avgVol > 0 {
			mktCtx.VolumeRatio = last.Volume / avgVol
		}
		mktCtx.VolatilityPips = rangeSum / float64(len(short))
	}
	return mktCtx
}

// trend reads direction off closed candles: net close-to-close movement over
// the window, flat when too short or unchanged.
func trend(window []signal.Candle) signal.Direction {
	if len(window) < 3 {
		return ""
	}
	first := window[0].Close
	last := window[len(window)-1].Close
	switch {
	case last > first:
		return signal.Buy
	case last < first:
		return signal.Sell
	default:
		return ""
	}
}

func (e *Engine) shieldInputs(sig signal.ScoredSignal, mktCtx score.Context) shield.Inputs {
	sameDir, conflicting := 0, 0
	buy, sell := e.disp.OpenDirections()
	if sig.Match.Direction == signal.Buy {
		sameDir, conflicting = buy, sell
	} else {
		sameDir, conflicting = sell, buy
	}
	return shield.Inputs{
		SignalPrice:        sig.Entry,
		OpenSameDirection:  sameDir,
		OpenConflicting:    conflicting,
		SessionVolumeRatio: mktCtx.VolumeRatio,
	}
}
