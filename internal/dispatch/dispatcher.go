// Package dispatch assembles fire commands for approved, unskipped signals
// and tracks their lifecycle through bridge confirmations and heartbeats.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"strikebot-go/internal/metrics"
	"strikebot-go/internal/risk"
	"strikebot-go/internal/signal"
	"strikebot-go/internal/stealth"
)

var (
	// ErrNotApproved is returned for a signal without an approving risk decision.
	ErrNotApproved = errors.New("dispatch: risk decision not approved")
	// ErrSkipped is returned when the stealth plan elected to skip.
	ErrSkipped = errors.New("dispatch: stealth plan skipped signal")
	// ErrAlreadyDispatched guards the at-most-one-command-per-signal rule.
	ErrAlreadyDispatched = errors.New("dispatch: signal already has a command in flight")
	// ErrNoSlot is returned when both concurrency caps are exhausted.
	ErrNoSlot = errors.New("dispatch: concurrency token withheld")
	// ErrBreakerOpen is returned while the bridge circuit breaker blocks sends.
	ErrBreakerOpen = errors.New("dispatch: circuit breaker open")
)

// Sender pushes a fire command to the execution bridge.
type Sender interface {
	Send(cmd signal.FireCommand) error
}

// pendingFire is the lifecycle record for one dispatched command. seen
// means at least one heartbeat has listed the position; absence only reads
// as a close after that, since a snapshot may predate the fill.
type pendingFire struct {
	cmd       signal.FireCommand
	signalID  string
	sentAt    time.Time
	confirmed bool
	seen      bool
	ticket    int64
	lastPnL   float64
}

// Dispatcher owns the outstanding-command table. At most one command exists
// per signal id; once sent, a command is immutable and never retried.
type Dispatcher struct {
	sender         Sender
	ledger         *risk.Ledger
	slots          *stealth.Slots
	breaker        *Breaker
	limiter        *rate.Limiter
	targetID       string
	confirmTimeout time.Duration
	log            zerolog.Logger

	mu         sync.Mutex
	bySignal   map[string]*pendingFire
	byFire     map[string]*pendingFire
	unresolved []signal.FireCommand
	now        func() time.Time
}

// NewDispatcher wires the dispatcher to the bridge sender and the shared
// ledger and slot table.
func NewDispatcher(sender Sender, ledger *risk.Ledger, slots *stealth.Slots, breaker *Breaker, sendsPerSecond float64, targetID string, confirmTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	if sendsPerSecond <= 0 {
		sendsPerSecond = 1
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	return &Dispatcher{
		sender:         sender,
		ledger:         ledger,
		slots:          slots,
		breaker:        breaker,
		limiter:        rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
		targetID:       targetID,
		confirmTimeout: confirmTimeout,
		log:            log,
		bySignal:       make(map[string]*pendingFire),
		byFire:         make(map[string]*pendingFire),
		now:            time.Now,
	}
}

// Dispatch applies the stealth plan and sends the fire command. The entry
// delay is the last cancellation point: a context cancellation during the
// wait aborts cleanly, while a command that reached the bridge is final.
func (d *Dispatcher) Dispatch(ctx context.Context, sig signal.ScoredSignal, decision signal.RiskDecision, plan signal.StealthPlan) (signal.FireCommand, error) {
	if !decision.Approved {
		return signal.FireCommand{}, ErrNotApproved
	}
	if plan.Skip {
		metrics.RejectionsTotal.WithLabelValues("dispatch", "stealth-skip").Inc()
		return signal.FireCommand{}, ErrSkipped
	}

	symbol := sig.Match.Symbol
	if !d.reserve(sig.ID) {
		return signal.FireCommand{}, ErrAlreadyDispatched
	}
	if !d.slots.TryAcquire(symbol) {
		d.unreserve(sig.ID)
		metrics.RejectionsTotal.WithLabelValues("dispatch", "concurrency-limit").Inc()
		return signal.FireCommand{}, ErrNoSlot
	}

	abort := func(err error) (signal.FireCommand, error) {
		d.slots.Release(symbol)
		d.unreserve(sig.ID)
		return signal.FireCommand{}, err
	}

	if !d.breaker.Allow() {
		metrics.RejectionsTotal.WithLabelValues("dispatch", "breaker-open").Inc()
		return abort(ErrBreakerOpen)
	}

	if plan.EntryDelay > 0 {
		timer := time.NewTimer(plan.EntryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return abort(ctx.Err())
		}
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return abort(err)
	}

	cmd := d.buildCommand(sig, decision, plan)
	fire := &pendingFire{cmd: cmd, signalID: sig.ID, sentAt: d.now()}
	d.register(fire)

	if err := d.sender.Send(cmd); err != nil {
		d.breaker.Failure()
		d.forget(fire)
		d.slots.Release(symbol)
		return signal.FireCommand{}, fmt.Errorf("send fire command: %w", err)
	}
	d.breaker.Success()

	metrics.FiresTotal.WithLabelValues(symbol, string(cmd.Direction)).Inc()
	d.log.Info().
		Str("fire_id", cmd.FireID).
		Str("id", sig.ID).
		Str("sym", symbol).
		Str("dir", string(cmd.Direction)).
		Float64("lot", cmd.LotSize).
		Msg("fire command dispatched")
	return cmd, nil
}

// buildCommand applies size jitter and price offsets from the stealth plan.
func (d *Dispatcher) buildCommand(sig signal.ScoredSignal, decision signal.RiskDecision, plan signal.StealthPlan) signal.FireCommand {
	lot := decision.AdjustedLotSize * (1 + plan.SizeJitterPct/100)
	lot = math.Max(0.01, math.Round(lot*100)/100)

	offset := plan.PriceOffsetPips * signal.PipSize(sig.Match.Symbol)

	return signal.FireCommand{
		Type:       "fire",
		FireID:     uuid.NewString(),
		TargetID:   d.targetID,
		Symbol:     sig.Match.Symbol,
		Direction:  sig.Match.Direction,
		Entry:      sig.Entry,
		StopLoss:   sig.StopLoss + offset,
		TakeProfit: sig.TakeProfit + offset,
		LotSize:    lot,
	}
}

// OnConfirmation marks a dispatched command as filled by the bridge.
func (d *Dispatcher) OnConfirmation(fireID string, ticket int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fire, ok := d.byFire[fireID]
	if !ok {
		d.log.Warn().Str("fire_id", fireID).Msg("confirmation for unknown fire id")
		return
	}
	fire.confirmed = true
	fire.ticket = ticket
}

// OnHeartbeat reconciles the outstanding table against the bridge's view:
// positions previously observed in a heartbeat that have disappeared are
// closed (token released, realized P&L booked), and unconfirmed commands
// past the timeout are surfaced as unresolved, never retried.
func (d *Dispatcher) OnHeartbeat(hb signal.Heartbeat) {
	d.mu.Lock()

	open := make(map[string]signal.Position, len(hb.Positions))
	for _, pos := range hb.Positions {
		open[pos.FireID] = pos
	}

	var closed []*pendingFire
	for fireID, fire := range d.byFire {
		if pos, ok := open[fireID]; ok {
			fire.confirmed = true
			fire.seen = true
			fire.ticket = pos.Ticket
			fire.lastPnL = pos.PnL
			continue
		}
		if fire.confirmed && fire.seen {
			closed = append(closed, fire)
			continue
		}
		if !fire.confirmed && d.now().Sub(fire.sentAt) >= d.confirmTimeout {
			d.markUnresolvedLocked(fire)
		}
	}
	for _, fire := range closed {
		delete(d.byFire, fire.cmd.FireID)
		delete(d.bySignal, fire.signalID)
	}
	d.mu.Unlock()

	for _, fire := range closed {
		d.slots.Release(fire.cmd.Symbol)
		d.ledger.RecordRealized(fire.lastPnL)
		d.log.Info().
			Str("fire_id", fire.cmd.FireID).
			Float64("pnl", fire.lastPnL).
			Msg("position closed, slot released")
	}
}

// SweepTimeouts flags unconfirmed commands older than the confirmation
// timeout. The heartbeat path already does this; the engine also calls it on
// a ticker so a silent bridge cannot park commands forever.
func (d *Dispatcher) SweepTimeouts() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fire := range d.byFire {
		if !fire.confirmed && d.now().Sub(fire.sentAt) >= d.confirmTimeout {
			d.markUnresolvedLocked(fire)
		}
	}
}

// markUnresolvedLocked moves a fire to the manual-reconciliation list. The
// concurrency token stays held: the command may have executed, and freeing
// the slot could double exposure. Caller holds the lock.
func (d *Dispatcher) markUnresolvedLocked(fire *pendingFire) {
	delete(d.byFire, fire.cmd.FireID)
	delete(d.bySignal, fire.signalID)
	d.unresolved = append(d.unresolved, fire.cmd)
	metrics.FiresUnresolved.Inc()
	d.log.Warn().
		Str("fire_id", fire.cmd.FireID).
		Str("id", fire.signalID).
		Msg("no confirmation before timeout, flagged for manual reconciliation")
}

// Unresolved returns the commands awaiting manual reconciliation.
func (d *Dispatcher) Unresolved() []signal.FireCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]signal.FireCommand, len(d.unresolved))
	copy(out, d.unresolved)
	return out
}

// OpenDirections counts outstanding commands by side, used as the
// correlation evidence for new assessments.
func (d *Dispatcher) OpenDirections() (buy, sell int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fire := range d.byFire {
		if fire.cmd.Direction == signal.Buy {
			buy++
		} else {
			sell++
		}
	}
	return buy, sell
}

// Outstanding reports whether the signal currently has a command in flight.
func (d *Dispatcher) Outstanding(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.bySignal[signalID]
	return ok
}

// reserve claims the signal id before any slow work so concurrent dispatch
// attempts for the same signal cannot race past each other.
func (d *Dispatcher) reserve(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bySignal[signalID]; ok {
		return false
	}
	d.bySignal[signalID] = nil
	return true
}

func (d *Dispatcher) unreserve(signalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fire, ok := d.bySignal[signalID]; ok && fire == nil {
		delete(d.bySignal, signalID)
	}
}

func (d *Dispatcher) register(fire *pendingFire) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bySignal[fire.signalID] = fire
	d.byFire[fire.cmd.FireID] = fire
}

func (d *Dispatcher) forget(fire *pendingFire) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bySignal, fire.signalID)
	delete(d.byFire, fire.cmd.FireID)
}
