// Package feed hosts the pluggable tick sources that drive the pipeline.
package feed

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic quotes (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderRedis subscribes to a redis pub/sub channel carrying JSON ticks.
	ProviderRedis = "redis"
)

// Feed represents a pluggable quote stream implementation.
type Feed struct {
	provider  string
	log       zerolog.Logger
	channel   string
	redisOpts *redis.Options
	mu        sync.RWMutex
	symbols   []string
}

// Option configures Feed construction parameters.
type Option func(*Feed)

// WithRedis points the redis provider at a server and channel.
func WithRedis(addr, password string, db int, channel string) Option {
	return func(f *Feed) {
		f.redisOpts = &redis.Options{Addr: addr, Password: password, DB: db}
		if channel != "" {
			f.channel = channel
		}
	}
}

const defaultTickChannel = "ticks"

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider: strings.ToLower(provider),
		log:      log,
		channel:  defaultTickChannel,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

func (f *Feed) tracked(symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Run pushes ticks onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Tick) error {
	switch f.provider {
	case ProviderRedis:
		return f.runRedis(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// runRedis consumes JSON ticks from a pub/sub channel, reconnecting with
// backoff when the subscription drops.
func (f *Feed) runRedis(ctx context.Context, out chan<- signal.Tick) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consumeRedis(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Err(err).Msg("tick subscription dropped, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consumeRedis(ctx context.Context, out chan<- signal.Tick) error {
	client := redis.NewClient(f.redisOpts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	sub := client.Subscribe(ctx, f.channel)
	defer sub.Close()

	f.log.Info().Str("addr", f.redisOpts.Addr).Str("channel", f.channel).Msg("subscribed to tick channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			tick, err := decodeTick([]byte(msg.Payload))
			if err != nil {
				f.log.Warn().Err(err).Msg("dropping undecodable tick payload")
				continue
			}
			if !f.tracked(tick.Symbol) {
				continue
			}
			select {
			case out <- tick:
				metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decodeTick parses one pub/sub payload. Symbols are normalized to upper case
// so channel producers may use any casing.
func decodeTick(payload []byte) (signal.Tick, error) {
	var tick signal.Tick
	if err := json.Unmarshal(payload, &tick); err != nil {
		return signal.Tick{}, err
	}
	tick.Symbol = strings.ToUpper(strings.TrimSpace(tick.Symbol))
	if tick.Ts.IsZero() {
		tick.Ts = time.Now().UTC()
	}
	return tick, nil
}

// runStub emits a slow sine drift around a per-symbol base so candles form
// with believable shape during offline runs.
func (f *Feed) runStub(ctx context.Context, out chan<- signal.Tick) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			for i, sym := range f.snapshotSymbols() {
				base := 1.1000 + 0.05*float64(i)
				if strings.Contains(sym, "JPY") {
					base = 150.0 + 5*float64(i)
				}
				pip := signal.PipSize(sym)
				drift := math.Sin(float64(step)/20) * 10 * pip
				bid := base + drift
				tick := signal.Tick{
					Symbol: sym,
					Bid:    bid,
					Ask:    bid + pip,
					Volume: 1 + float64(step%5),
					Ts:     ts,
				}
				select {
				case out <- tick:
					metrics.TicksTotal.WithLabelValues(sym).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
