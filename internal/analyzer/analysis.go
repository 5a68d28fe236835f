package analyzer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	kchess "github.com/kibitzerlive/kibitzer/internal/chess"
	"github.com/kibitzerlive/kibitzer/internal/notify"
	"github.com/kibitzerlive/kibitzer/internal/store"
)

// publishInterval throttles how often a long search republishes.
const publishInterval = 1 * time.Second

const cancelTimeout = 10 * time.Second

// runningAnalysis is one engine search plus the goroutine consuming it.
type runningAnalysis struct {
	fen      string
	analysis Analysis
	cancel   context.CancelFunc
	finished chan struct{}
}

// stop cancels the consumer first so nothing is persisted or published
// after this returns, then stops the engine search.
func (r *runningAnalysis) stop() {
	r.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	_ = r.analysis.Cancel(ctx)
	<-r.finished
}

// startAnalysis points the engine at a position. It returns nil when the
// position has no legal moves (the game is over on the board).
func (a *Analyzer) startAnalysis(ctx context.Context, game *store.Game, pos *store.Position, board *kchess.Board) (*runningAnalysis, error) {
	multipv := board.NumLegalMoves()
	if multipv == 0 {
		a.log.Debug().Int("ply", pos.Ply).Msg("no legal moves, nothing to analyze")
		return nil, nil
	}
	if max := a.engine.MaxMultiPV(); multipv > max {
		multipv = max
	}

	analysis, err := a.engine.Analyze(board.FEN(), ratingOptions(game), multipv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errEngineGone, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	r := &runningAnalysis{
		fen:      board.FEN(),
		analysis: analysis,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	go a.consume(wctx, game, pos, board, multipv, analysis, r.finished)
	return r, nil
}

// consume turns engine output into persisted, published evaluations.
// Every complete MultiPV bundle is persisted; the broadcast to viewers is
// throttled to one per publishInterval.
func (a *Analyzer) consume(ctx context.Context, game *store.Game, pos *store.Position, board *kchess.Board, multipv int, analysis Analysis, finished chan struct{}) {
	defer close(finished)

	builder := newBundleBuilder(multipv, a.log)
	var lastPublish time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-analysis.Infos():
			if !ok {
				return
			}
			// Cancellation wins over any lines still buffered.
			if ctx.Err() != nil {
				return
			}
			bundle := builder.add(info)
			if bundle == nil {
				continue
			}
			publish := time.Since(lastPublish) >= publishInterval
			if err := a.persistBundle(ctx, game, pos, board, bundle, publish); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warn().Err(err).Int("ply", pos.Ply).Msg("persisting evaluation failed")
				continue
			}
			if publish {
				lastPublish = time.Now()
			}
		}
	}
}

// persistBundle stores one complete engine verdict and refreshes the
// position's aggregate scores. The evaluation frame goes out only when
// publish is set.
func (a *Analyzer) persistBundle(ctx context.Context, game *store.Game, pos *store.Position, board *kchess.Board, bundle []scoredLine, publish bool) error {
	turn := board.Turn()
	moves := make([]store.EvaluationMove, 0, len(bundle))
	variations := make([]notify.Variation, 0, len(bundle))
	for _, line := range bundle {
		score, isMate := whitePOVScore(line.info, turn)
		var mateScore *int
		if isMate {
			plies := score
			mateScore = &plies
		}
		q := qScore(line.info, turn)
		w, d, b := whitePOVWDL(line.info, turn)
		moveUCI := line.info.PV[0]
		moveSAN, err := board.SAN(moveUCI)
		if err != nil {
			return fmt.Errorf("engine move %q: %w", moveUCI, err)
		}
		pvSAN := a.sanLine(board, line.info.PV)
		pvUCI := a.uciLine(line.info.PV)
		moves = append(moves, store.EvaluationMove{
			MultiPV:   line.info.MultiPV,
			Nodes:     line.info.Nodes,
			MoveUCI:   moveUCI,
			MoveSAN:   moveSAN,
			QScore:    q,
			PVSAN:     pvSAN,
			PVUCI:     pvUCI,
			MateScore: mateScore,
			WhiteWins: w,
			Draws:     d,
			BlackWins: b,
			MovesLeft: line.info.MovesLeft,
		})
		variations = append(variations, notify.Variation{
			MultiPV:   line.info.MultiPV,
			Nodes:     line.info.Nodes,
			MoveUCI:   moveUCI,
			MoveSAN:   moveSAN,
			Score:     q,
			PVSAN:     pvSAN,
			PVUCI:     pvUCI,
			MateScore: mateScore,
			WhiteWins: w,
			Draws:     d,
			BlackWins: b,
			MovesLeft: line.info.MovesLeft,
		})
	}

	top := bundle[0].info
	agg := aggregateScores(bundle, turn)
	eval := &store.Evaluation{
		PositionID: pos.ID,
		Nodes:      agg.Nodes,
		TimeMS:     top.TimeMS,
		Depth:      top.Depth,
		SelDepth:   top.SelDepth,
		MovesLeft:  top.MovesLeft,
	}
	evalID, err := a.store.InsertEvaluation(ctx, eval, moves)
	if err != nil {
		return err
	}

	if err := a.store.UpdatePositionScores(ctx, pos.ID, store.PositionScores{
		QScore:    agg.Q,
		WhiteWins: agg.WhiteWins,
		Draws:     agg.Draws,
		BlackWins: agg.BlackWins,
		Nodes:     agg.Nodes,
		TimeMS:    top.TimeMS,
		Depth:     top.Depth,
		SelDepth:  top.SelDepth,
		MovesLeft: top.MovesLeft,
	}); err != nil {
		return err
	}

	if !publish {
		return nil
	}
	a.pub.PublishEvaluation(game.ID, pos.Ply, notify.Evaluation{
		GameID:     game.ID,
		Ply:        pos.Ply,
		EvalID:     evalID,
		Nodes:      agg.Nodes,
		Time:       top.TimeMS,
		Depth:      top.Depth,
		SelDepth:   top.SelDepth,
		MovesLeft:  top.MovesLeft,
		Variations: variations,
	})
	return nil
}

// sanLine renders the first ShowPV moves of a PV in SAN.
func (a *Analyzer) sanLine(board *kchess.Board, pv []string) string {
	show := a.engine.ShowPV()
	if show > len(pv) {
		show = len(pv)
	}
	b := board.Copy()
	var out []string
	for _, mv := range pv[:show] {
		san, err := b.SAN(mv)
		if err != nil {
			break
		}
		out = append(out, san)
		if err := b.ApplyUCI(mv); err != nil {
			break
		}
	}
	return strings.Join(out, " ")
}

// uciLine renders the first ShowPV moves of a PV in long algebraic form.
func (a *Analyzer) uciLine(pv []string) string {
	show := a.engine.ShowPV()
	if show > len(pv) {
		show = len(pv)
	}
	return strings.Join(pv[:show], " ")
}

// ratingOptions tunes the engine to the players when both ratings are
// known: calibrate the WDL model to the White player and search with the
// rating gap as contempt, always from White's side.
func ratingOptions(game *store.Game) map[string]string {
	if game.Player1.Rating == nil || game.Player2.Rating == nil {
		return nil
	}
	p1, p2 := *game.Player1.Rating, *game.Player2.Rating
	return map[string]string{
		"ClearTree":            "true",
		"WDLCalibrationElo":    strconv.Itoa(p1),
		"Contempt":             strconv.Itoa(p1 - p2),
		"ContemptMode":         "white_side_analysis",
		"WDLDrawRateReference": "0.64",
		"WDLEvalObjectivity":   "0.0",
	}
}
