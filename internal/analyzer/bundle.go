package analyzer

import (
	"github.com/rs/zerolog"

	"github.com/kibitzerlive/kibitzer/internal/uci"
)

// scoredLine is one usable engine line: an info record that carried both
// a score and a principal variation.
type scoredLine struct {
	info uci.Info
}

// bundleBuilder groups engine info lines into complete MultiPV bundles.
// A bundle is the lines ranked 1..n in order; anything out of sequence
// discards the partial bundle, so a consumer only ever sees coherent
// snapshots of the search.
type bundleBuilder struct {
	n     int
	lines []scoredLine
	log   zerolog.Logger
}

func newBundleBuilder(n int, log zerolog.Logger) *bundleBuilder {
	if n < 1 {
		n = 1
	}
	return &bundleBuilder{n: n, log: log}
}

// add feeds one info record and returns a complete bundle or nil.
func (b *bundleBuilder) add(info uci.Info) []scoredLine {
	if info.Score == nil || len(info.PV) == 0 {
		return nil
	}
	switch info.MultiPV {
	case 1:
		b.lines = b.lines[:0]
		b.lines = append(b.lines, scoredLine{info: info})
	case len(b.lines) + 1:
		b.lines = append(b.lines, scoredLine{info: info})
	default:
		if len(b.lines) > 0 {
			b.log.Warn().Int("multipv", info.MultiPV).Int("have", len(b.lines)).
				Msg("engine lines out of sequence, dropping partial bundle")
		}
		b.lines = b.lines[:0]
		return nil
	}
	if len(b.lines) < b.n {
		return nil
	}
	out := make([]scoredLine, b.n)
	copy(out, b.lines)
	b.lines = b.lines[:0]
	return out
}
