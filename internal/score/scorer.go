// Package score applies session, timeframe-alignment, and market-condition
// adjustments to raw pattern matches and classifies the survivors.
package score

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strikebot-go/internal/config"
	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

// Context carries the market conditions observed at scoring time. The
// engine assembles it from the aggregator; the scorer itself is pure.
type Context struct {
	ShortTrend     signal.Direction // dominant short-timeframe direction, "" when flat
	MediumTrend    signal.Direction // dominant medium-timeframe direction, "" when flat
	VolumeRatio    float64          // latest candle volume vs rolling average
	SpreadPips     float64
	VolatilityPips float64 // mean candle range over the window
}

// Scorer is stateless per call and safe for concurrent use across symbols.
type Scorer struct {
	cfg config.Score
	log zerolog.Logger
}

// NewScorer builds a scorer from the loaded configuration.
func NewScorer(cfg config.Score, log zerolog.Logger) *Scorer {
	return &Scorer{cfg: cfg, log: log}
}

// Score produces at most one scored signal per qualifying match. A nil
// return means the setup fell under the minimum threshold, which is the
// expected outcome for low-quality matches, not an error.
func (s *Scorer) Score(match signal.PatternMatch, mktCtx Context) *signal.ScoredSignal {
	session, sessionBonus := s.sessionBonus(match.DetectedAt)
	alignBonus := s.alignmentBonus(match.Direction, mktCtx)
	condBonus := s.conditionBonus(mktCtx)

	final := match.BaseScore + sessionBonus + alignBonus + condBonus
	if final < s.cfg.MinThreshold {
		s.log.Debug().
			Str("sym", match.Symbol).
			Str("pattern", string(match.Kind)).
			Float64("score", final).
			Msg("signal under threshold, dropped")
		return nil
	}

	class := s.classify(match.Kind, final)
	rr := s.cfg.RapidRR
	if class == signal.PrecisionStrike {
		rr = s.cfg.PrecisionRR
	}

	risk := match.Entry - match.StopLoss
	if risk < 0 {
		risk = -risk
	}
	takeProfit := match.Entry + risk*rr
	if match.Direction == signal.Sell {
		takeProfit = match.Entry - risk*rr
	}

	scored := &signal.ScoredSignal{
		ID:         uuid.NewString(),
		Match:      match,
		FinalScore: final,
		Class:      class,
		Entry:      match.Entry,
		StopLoss:   match.StopLoss,
		TakeProfit: takeProfit,
		RiskReward: rr,
		ScoredAt:   time.Now(),
	}

	metrics.SignalsTotal.WithLabelValues(match.Symbol, string(class)).Inc()
	s.log.Info().
		Str("id", scored.ID).
		Str("sym", match.Symbol).
		Str("pattern", string(match.Kind)).
		Str("class", string(class)).
		Str("session", session).
		Float64("score", final).
		Msg("signal scored")
	return scored
}

// sessionBonus returns the best-paying session whose UTC hour window
// contains the detection time. Windows may wrap midnight.
func (s *Scorer) sessionBonus(ts time.Time) (string, float64) {
	hour := ts.UTC().Hour()
	name := "none"
	bonus := 0.0
	for _, sess := range s.cfg.Sessions {
		var in bool
		if sess.StartHour <= sess.EndHour {
			in = hour >= sess.StartHour && hour < sess.EndHour
		} else {
			in = hour >= sess.StartHour || hour < sess.EndHour
		}
		if in && sess.Bonus > bonus {
			name = sess.Name
			bonus = sess.Bonus
		}
	}
	return name, bonus
}

// alignmentBonus rewards agreement between the match direction and the
// short/medium timeframe trends. Full agreement pays the most; a single
// agreeing timeframe pays the partial bonus; any conflict pays nothing.
func (s *Scorer) alignmentBonus(dir signal.Direction, mktCtx Context) float64 {
	shortAgrees := mktCtx.ShortTrend == dir
	mediumAgrees := mktCtx.MediumTrend == dir
	shortConflicts := mktCtx.ShortTrend != "" && !shortAgrees
	mediumConflicts := mktCtx.MediumTrend != "" && !mediumAgrees

	switch {
	case shortAgrees && mediumAgrees:
		return s.cfg.FullAlignBonus
	case shortConflicts || mediumConflicts:
		return 0
	case shortAgrees || mediumAgrees:
		return s.cfg.PartAlignBonus
	default:
		return 0
	}
}

// conditionBonus pays for above-average volume, a tight spread, and
// volatility inside the target band, capped as configured.
func (s *Scorer) conditionBonus(mktCtx Context) float64 {
	var bonus float64
	if mktCtx.VolumeRatio > 1 {
		bonus += s.cfg.VolumeBonus
	}
	if mktCtx.SpreadPips > 0 && mktCtx.SpreadPips <= s.cfg.MaxSpreadPips {
		bonus += s.cfg.SpreadBonus
	}
	if mktCtx.VolatilityPips >= s.cfg.VolBandLowPips && mktCtx.VolatilityPips <= s.cfg.VolBandHighPips {
		bonus += s.cfg.VolatilityBonus
	}
	if bonus > s.cfg.ConditionCap {
		bonus = s.cfg.ConditionCap
	}
	return bonus
}

// classify maps pattern kind and score tier to a signal class. Gap fills
// are short-lived plays and stay RAPID_ASSAULT regardless of score.
func (s *Scorer) classify(kind signal.PatternKind, finalScore float64) signal.Class {
	if kind == signal.FVGFill {
		return signal.RapidAssault
	}
	if finalScore >= s.cfg.PrecisionTier {
		return signal.PrecisionStrike
	}
	return signal.RapidAssault
}
