package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"strikebot-go/internal/risk"
	"strikebot-go/internal/signal"
	"strikebot-go/internal/stealth"
)

type stubSender struct {
	sent []signal.FireCommand
	err  error
}

func (s *stubSender) Send(cmd signal.FireCommand) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func testScored(id string) signal.ScoredSignal {
	return signal.ScoredSignal{
		ID: id,
		Match: signal.PatternMatch{
			Symbol:    "EURUSD",
			Kind:      signal.SweepReversal,
			Direction: signal.Buy,
		},
		Entry:      1.1000,
		StopLoss:   1.0990,
		TakeProfit: 1.1015,
	}
}

func approved(id string) signal.RiskDecision {
	return signal.RiskDecision{SignalID: id, Approved: true, AdjustedLotSize: 0.2, RiskPercent: 2.0}
}

func newTestDispatcher(sender Sender) (*Dispatcher, *risk.Ledger, *stealth.Slots) {
	ledger := risk.NewLedger(time.UTC)
	slots := stealth.NewSlots(2, 4)
	breaker := NewBreaker(2, time.Minute)
	d := NewDispatcher(sender, ledger, slots, breaker, 1000, "terminal-test", 90*time.Second, zerolog.Nop())
	return d, ledger, slots
}

func TestDispatchBuildsCommand(t *testing.T) {
	sender := &stubSender{}
	d, _, slots := newTestDispatcher(sender)

	plan := signal.StealthPlan{SignalID: "sig-1", SizeJitterPct: 5, PriceOffsetPips: -1}
	cmd, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), plan)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if cmd.Type != "fire" || cmd.FireID == "" {
		t.Fatalf("malformed command: %+v", cmd)
	}
	if cmd.TargetID != "terminal-test" {
		t.Fatalf("unexpected target: %s", cmd.TargetID)
	}
	// 0.2 lots +5% jitter = 0.21
	if cmd.LotSize != 0.21 {
		t.Fatalf("expected jittered 0.21 lots, got %.4f", cmd.LotSize)
	}
	// -1 pip offset on both levels
	if cmd.StopLoss < 1.09889 || cmd.StopLoss > 1.09891 {
		t.Fatalf("unexpected SL: %.5f", cmd.StopLoss)
	}
	if cmd.TakeProfit < 1.10139 || cmd.TakeProfit > 1.10141 {
		t.Fatalf("unexpected TP: %.5f", cmd.TakeProfit)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	if slots.InFlight("EURUSD") != 1 {
		t.Fatalf("expected held token")
	}
	if !d.Outstanding("sig-1") {
		t.Fatalf("expected outstanding record")
	}
}

// Retried scoring of the same signal id must never produce a second command.
func TestDispatchAtMostOncePerSignal(t *testing.T) {
	sender := &stubSender{}
	d, _, _ := newTestDispatcher(sender)

	if _, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{}); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	_, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{})
	if !errors.Is(err, ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched, got %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one command, got %d", len(sender.sent))
	}
}

func TestDispatchRefusesUnapprovedAndSkipped(t *testing.T) {
	sender := &stubSender{}
	d, _, _ := newTestDispatcher(sender)

	decision := approved("sig-1")
	decision.Approved = false
	if _, err := d.Dispatch(context.Background(), testScored("sig-1"), decision, signal.StealthPlan{}); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
	if _, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{Skip: true}); !errors.Is(err, ErrSkipped) {
		t.Fatalf("expected ErrSkipped, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing may reach the bridge, got %d sends", len(sender.sent))
	}
}

func TestDispatchWithholdsTokenAtCap(t *testing.T) {
	sender := &stubSender{}
	ledger := risk.NewLedger(time.UTC)
	slots := stealth.NewSlots(1, 1)
	d := NewDispatcher(sender, ledger, slots, NewBreaker(2, time.Minute), 1000, "t", 90*time.Second, zerolog.Nop())

	if _, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{}); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	_, err := d.Dispatch(context.Background(), testScored("sig-2"), approved("sig-2"), signal.StealthPlan{})
	if !errors.Is(err, ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}
}

func TestDispatchSendFailureFreesStateAndTripsBreaker(t *testing.T) {
	sender := &stubSender{err: errors.New("bridge down")}
	d, _, slots := newTestDispatcher(sender)

	for _, id := range []string{"sig-1", "sig-2"} {
		if _, err := d.Dispatch(context.Background(), testScored(id), approved(id), signal.StealthPlan{}); err == nil {
			t.Fatalf("expected send error")
		}
	}
	if slots.TotalInFlight() != 0 {
		t.Fatalf("failed sends must release tokens, %d held", slots.TotalInFlight())
	}
	if d.Outstanding("sig-1") {
		t.Fatalf("failed send must clear the outstanding record")
	}

	// threshold 2 reached: breaker now blocks
	_, err := d.Dispatch(context.Background(), testScored("sig-3"), approved("sig-3"), signal.StealthPlan{})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestDispatchCancelledDuringDelay(t *testing.T) {
	sender := &stubSender{}
	d, _, slots := newTestDispatcher(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan := signal.StealthPlan{EntryDelay: time.Hour}
	_, err := d.Dispatch(ctx, testScored("sig-1"), approved("sig-1"), plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("cancelled dispatch must not send")
	}
	if slots.TotalInFlight() != 0 {
		t.Fatalf("cancelled dispatch must release its token")
	}
	if d.Outstanding("sig-1") {
		t.Fatalf("cancelled dispatch must clear the reservation")
	}
}

func TestHeartbeatReconciliation(t *testing.T) {
	sender := &stubSender{}
	d, ledger, slots := newTestDispatcher(sender)

	cmd, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	// first heartbeat: position open, command confirmed
	d.OnHeartbeat(signal.Heartbeat{
		Balance: 1000,
		Positions: []signal.Position{
			{Ticket: 42, FireID: cmd.FireID, Symbol: "EURUSD", Direction: signal.Buy, PnL: 12.5},
		},
	})
	if !d.Outstanding("sig-1") {
		t.Fatalf("open position must keep the record")
	}

	// second heartbeat: position gone, trade closed
	d.OnHeartbeat(signal.Heartbeat{Balance: 1012.5})
	if d.Outstanding("sig-1") {
		t.Fatalf("closed position must clear the record")
	}
	if slots.TotalInFlight() != 0 {
		t.Fatalf("closed position must release the token")
	}
	if ledger.RealizedPnL() != 12.5 {
		t.Fatalf("expected realized pnl 12.5, got %.2f", ledger.RealizedPnL())
	}
}

// A heartbeat snapshot can predate the fill it confirms. Absence only
// reads as a close once the position has shown up in a heartbeat.
func TestHeartbeatPredatingFillKeepsPosition(t *testing.T) {
	sender := &stubSender{}
	d, ledger, slots := newTestDispatcher(sender)

	cmd, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	d.OnConfirmation(cmd.FireID, 42)

	// snapshot taken before the fill: position not listed yet
	d.OnHeartbeat(signal.Heartbeat{Balance: 1000})
	if !d.Outstanding("sig-1") {
		t.Fatalf("never-observed position must not close on an empty heartbeat")
	}
	if slots.TotalInFlight() != 1 {
		t.Fatalf("slot must stay held, %d in flight", slots.TotalInFlight())
	}
	if ledger.RealizedPnL() != 0 {
		t.Fatalf("no pnl may be booked yet, got %.2f", ledger.RealizedPnL())
	}

	// the position appears, then disappears: now it is a real close
	d.OnHeartbeat(signal.Heartbeat{
		Balance: 1000,
		Positions: []signal.Position{
			{Ticket: 42, FireID: cmd.FireID, Symbol: "EURUSD", Direction: signal.Buy, PnL: 8.0},
		},
	})
	d.OnHeartbeat(signal.Heartbeat{Balance: 1008})
	if d.Outstanding("sig-1") {
		t.Fatalf("observed-then-absent position must close")
	}
	if slots.TotalInFlight() != 0 {
		t.Fatalf("close must release the slot")
	}
	if ledger.RealizedPnL() != 8.0 {
		t.Fatalf("expected realized pnl 8.0, got %.2f", ledger.RealizedPnL())
	}
}

func TestUnconfirmedFireGoesUnresolved(t *testing.T) {
	sender := &stubSender{}
	d, _, slots := newTestDispatcher(sender)
	current := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return current }

	cmd, err := d.Dispatch(context.Background(), testScored("sig-1"), approved("sig-1"), signal.StealthPlan{})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	current = current.Add(2 * time.Minute) // past the 90s confirmation timeout
	d.SweepTimeouts()

	unresolved := d.Unresolved()
	if len(unresolved) != 1 || unresolved[0].FireID != cmd.FireID {
		t.Fatalf("expected one unresolved fire, got %+v", unresolved)
	}
	if d.Outstanding("sig-1") {
		t.Fatalf("unresolved fire must leave the outstanding table")
	}
	// the command may have executed: the token stays held for manual review
	if slots.TotalInFlight() != 1 {
		t.Fatalf("unresolved fire must keep its token, %d held", slots.TotalInFlight())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("unresolved fire must never be retried")
	}
}
