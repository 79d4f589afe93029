// Package shield cross-checks scored signals against independent quality
// heuristics before any sizing decision is made.
package shield

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

// Inputs carries the independent evidence the assessor scores. The engine
// assembles it; the assessor itself is a pure function of its arguments.
type Inputs struct {
	SourcePrices       []float64     // quotes for the symbol from independent sources
	SignalPrice        float64       // the entry the signal proposes
	NextNewsIn         time.Duration // time until the next scheduled high-impact event, 0 when unknown
	OpenSameDirection  int           // open or pending correlated signals on the same side
	OpenConflicting    int           // open or pending correlated signals on the opposite side
	SessionVolumeRatio float64       // current session volume vs its typical level
}

// Assessor computes a 0-10 consensus score from four heuristics and maps it
// to a position-size multiplier. Scores under the floor reject the signal
// outright; rejection is fatal to the signal, not to the pipeline.
type Assessor struct {
	floor      float64
	newsBuffer time.Duration
	log        zerolog.Logger
}

// NewAssessor builds an assessor with the configured rejection floor and
// news proximity buffer.
func NewAssessor(floor float64, newsBuffer time.Duration, log zerolog.Logger) *Assessor {
	if floor <= 0 {
		floor = 4
	}
	if newsBuffer <= 0 {
		newsBuffer = 30 * time.Minute
	}
	return &Assessor{floor: floor, newsBuffer: newsBuffer, log: log}
}

// Assess scores the signal. Each heuristic contributes up to 2.5 points.
func (a *Assessor) Assess(sig signal.ScoredSignal, in Inputs) signal.ShieldAssessment {
	var flags []string

	consensus := a.priceAgreement(sig.Match.Symbol, in)

	newsScore, newsFlag := a.newsProximity(in)
	consensus += newsScore
	if newsFlag != "" {
		flags = append(flags, newsFlag)
	}

	corrScore, corrFlag := a.correlation(in)
	consensus += corrScore
	if corrFlag != "" {
		flags = append(flags, corrFlag)
	}

	consensus += a.sessionFlow(in)

	assessment := signal.ShieldAssessment{
		SignalID:       sig.ID,
		Consensus:      consensus,
		SizeMultiplier: multiplier(consensus),
		Approved:       consensus >= a.floor,
		Flags:          flags,
	}
	if !assessment.Approved {
		assessment.Reason = fmt.Sprintf("consensus %.1f below floor %.1f", consensus, a.floor)
		metrics.RejectionsTotal.WithLabelValues("shield", "consensus-floor").Inc()
	}

	a.log.Info().
		Str("id", sig.ID).
		Str("sym", sig.Match.Symbol).
		Float64("consensus", consensus).
		Float64("mult", assessment.SizeMultiplier).
		Bool("approved", assessment.Approved).
		Strs("flags", flags).
		Msg("shield assessment")
	return assessment
}

// priceAgreement scores how closely independent sources agree with the
// signal's entry. Missing sources score neutral.
func (a *Assessor) priceAgreement(symbol string, in Inputs) float64 {
	if len(in.SourcePrices) == 0 || in.SignalPrice <= 0 {
		return 1.0
	}
	worst := 0.0
	for _, px := range in.SourcePrices {
		dev := signal.Pips(symbol, px-in.SignalPrice)
		if dev < 0 {
			dev = -dev
		}
		if dev > worst {
			worst = dev
		}
	}
	switch {
	case worst <= 1:
		return 2.5
	case worst <= 3:
		return 1.5
	default:
		return 0.5
	}
}

func (a *Assessor) newsProximity(in Inputs) (float64, string) {
	if in.NextNewsIn == 0 {
		return 1.5, "" // calendar unavailable, neither penalize nor reward
	}
	if in.NextNewsIn <= a.newsBuffer {
		return 0, "news-risk"
	}
	return 2.5, ""
}

func (a *Assessor) correlation(in Inputs) (float64, string) {
	switch {
	case in.OpenConflicting > 0:
		return 0.5, "correlation-conflict"
	case in.OpenSameDirection > 1:
		return 1.5, ""
	default:
		return 2.5, ""
	}
}

func (a *Assessor) sessionFlow(in Inputs) float64 {
	switch {
	case in.SessionVolumeRatio >= 1:
		return 2.5
	case in.SessionVolumeRatio >= 0.7:
		return 1.5
	default:
		return 0.5
	}
}

// multiplier is the monotonic step function from consensus to position-size
// scaling.
func multiplier(consensus float64) float64 {
	switch {
	case consensus >= 8:
		return 1.5
	case consensus >= 6:
		return 1.0
	case consensus >= 4:
		return 0.5
	default:
		return 0.25
	}
}
