package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kibitzerlive/kibitzer/internal/notify"
	"github.com/kibitzerlive/kibitzer/internal/store"
)

const snapshotTimeout = 10 * time.Second

// Welcome registers a new viewer and sends the hello frame: the current
// status and the full game list together.
func (s *Supervisor) Welcome(sub notify.Subscriber) {
	s.notifier.Register(sub)

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	hello := notify.Frame{Status: s.status()}
	games, err := s.store.VisibleGames(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("loading game list for viewer")
	} else {
		entries := make([]notify.GameEntry, 0, len(games))
		for _, g := range games {
			entries = append(entries, s.gameEntry(g))
		}
		hello.Games = entries
	}
	s.notifier.SendTo(sub, hello)
}

// Goodbye removes a viewer.
func (s *Supervisor) Goodbye(sub notify.Subscriber) {
	s.notifier.Unregister(sub)
}

// Watch points a viewer at a game and optionally a ply. A game change
// sends the game's stored positions; a ply sends the latest evaluation
// of that ply when one exists.
func (s *Supervisor) Watch(sub notify.Subscriber, gameID *int64, ply *int) {
	gameChanged := s.notifier.SetWatch(sub, gameID, ply)

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if gameChanged && gameID != nil {
		positions, err := s.store.PositionsForGame(ctx, *gameID)
		if err != nil {
			log.Warn().Err(err).Int64("game", *gameID).Msg("loading positions for viewer")
			return
		}
		frames := make([]notify.Position, 0, len(positions))
		for _, p := range positions {
			frames = append(frames, positionFrame(p))
		}
		s.notifier.SendTo(sub, notify.Frame{Positions: frames})
	}

	if gameID != nil && ply != nil {
		eval, moves, err := s.store.LatestEvaluation(ctx, *gameID, *ply)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			log.Warn().Err(err).Int64("game", *gameID).Int("ply", *ply).Msg("loading evaluation for viewer")
			return
		}
		s.notifier.SendTo(sub, notify.Frame{Evaluations: []notify.Evaluation{evaluationFrame(*gameID, *ply, eval, moves)}})
	}
}

func positionFrame(p *store.Position) notify.Position {
	return notify.Position{
		GameID:     p.GameID,
		Ply:        p.Ply,
		MoveUCI:    p.MoveUCI,
		MoveSAN:    p.MoveSAN,
		FEN:        p.FEN,
		WhiteClock: p.WhiteClock,
		BlackClock: p.BlackClock,
		QScore:     p.QScore,
		WhiteWins:  p.WhiteWins,
		Draws:      p.Draws,
		BlackWins:  p.BlackWins,
	}
}

func evaluationFrame(gameID int64, ply int, e *store.Evaluation, moves []store.EvaluationMove) notify.Evaluation {
	variations := make([]notify.Variation, 0, len(moves))
	for _, m := range moves {
		variations = append(variations, notify.Variation{
			MultiPV:   m.MultiPV,
			Nodes:     m.Nodes,
			MoveUCI:   m.MoveUCI,
			MoveSAN:   m.MoveSAN,
			Score:     m.QScore,
			PVSAN:     m.PVSAN,
			PVUCI:     m.PVUCI,
			MateScore: m.MateScore,
			WhiteWins: m.WhiteWins,
			Draws:     m.Draws,
			BlackWins: m.BlackWins,
			MovesLeft: m.MovesLeft,
		})
	}
	return notify.Evaluation{
		GameID:     gameID,
		Ply:        ply,
		EvalID:     e.ID,
		Nodes:      e.Nodes,
		Time:       e.TimeMS,
		Depth:      e.Depth,
		SelDepth:   e.SelDepth,
		MovesLeft:  e.MovesLeft,
		Variations: variations,
	}
}
