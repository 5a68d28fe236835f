package analyzer

import (
	"math"

	kchess "github.com/kibitzerlive/kibitzer/internal/chess"
	"github.com/kibitzerlive/kibitzer/internal/uci"
)

// qScoreLimit caps centipawn scores; forced mates score exactly the cap.
const qScoreLimit = 20000

// whitePOVScore converts an engine score to White's point of view. Mate
// scores become signed plies to mate: positive when White delivers it,
// counting the half-moves until the mating move.
func whitePOVScore(info uci.Info, turn kchess.Color) (int, bool) {
	s := info.Score
	if !s.IsMate {
		cp := s.CP
		if turn == kchess.Black {
			cp = -cp
		}
		return cp, false
	}

	n := s.Mate
	var plies int
	whiteMates := turn == kchess.White
	if n >= 0 {
		plies = 2*n - 1
		if n == 0 {
			plies = 0
		}
	} else {
		plies = 2 * -n
		whiteMates = !whiteMates
	}
	if whiteMates {
		return plies, true
	}
	return -plies, true
}

// qScore is the clamped White-POV centipawn value used for position
// aggregates; mates pin to the cap.
func qScore(info uci.Info, turn kchess.Color) int {
	score, isMate := whitePOVScore(info, turn)
	if isMate {
		if score >= 0 {
			return qScoreLimit
		}
		return -qScoreLimit
	}
	if score > qScoreLimit {
		return qScoreLimit
	}
	if score < -qScoreLimit {
		return -qScoreLimit
	}
	return score
}

// whitePOVWDL converts an engine WDL triple to White's point of view and
// normalizes it to exactly 1000 per-mille. Lines without WDL yield nils.
func whitePOVWDL(info uci.Info, turn kchess.Color) (*int, *int, *int) {
	if len(info.WDL) != 3 {
		return nil, nil, nil
	}
	w, d, l := info.WDL[0], info.WDL[1], info.WDL[2]
	if turn == kchess.Black {
		w, l = l, w
	}
	w, d, l = normalizeWDL(w, d, l)
	return &w, &d, &l
}

func normalizeWDL(w, d, l int) (int, int, int) {
	total := w + d + l
	if total <= 0 {
		return 0, 1000, 0
	}
	if total != 1000 {
		w = int(math.Round(float64(w) * 1000 / float64(total)))
		l = int(math.Round(float64(l) * 1000 / float64(total)))
	}
	return w, 1000 - w - l, l
}

// bundleScores is the position-level verdict of a complete bundle.
type bundleScores struct {
	Q         int
	WhiteWins int
	Draws     int
	BlackWins int
	Nodes     int64
}

// aggregateScores averages a bundle's lines weighted by their node
// counts: lines the engine spent more effort on pull the verdict harder.
// Lines without WDL get a White-POV split estimated from the score with a
// logistic curve and no draw share. When no line reports nodes the lines
// weigh equally.
func aggregateScores(bundle []scoredLine, turn kchess.Color) bundleScores {
	var totalNodes int64
	for _, l := range bundle {
		totalNodes += l.info.Nodes
	}

	var qSum, wSum, bSum, weightSum float64
	for _, l := range bundle {
		weight := float64(l.info.Nodes)
		if totalNodes == 0 {
			weight = 1
		}
		q := float64(qScore(l.info, turn))
		var white, black float64
		if w, _, loss := whitePOVWDL(l.info, turn); w != nil {
			white, black = float64(*w), float64(*loss)
		} else {
			p := 1 / (1 + math.Exp(-q/111.714))
			white = math.Round(p * 1000)
			black = 1000 - white
		}
		qSum += weight * q
		wSum += weight * white
		bSum += weight * black
		weightSum += weight
	}

	out := bundleScores{Nodes: totalNodes}
	out.Q = int(math.Round(qSum / weightSum))
	out.WhiteWins = int(math.Round(wSum / weightSum))
	out.BlackWins = int(math.Round(bSum / weightSum))
	out.Draws = 1000 - out.WhiteWins - out.BlackWins
	return out
}
