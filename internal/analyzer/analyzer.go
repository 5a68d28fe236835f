// Package analyzer drives one engine against one live game at a time: it
// follows the game's PGN feed, persists new mainline positions, keeps the
// engine pointed at the latest position and publishes every complete
// engine verdict.
package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	kchess "github.com/kibitzerlive/kibitzer/internal/chess"
	"github.com/kibitzerlive/kibitzer/internal/notify"
	"github.com/kibitzerlive/kibitzer/internal/pgnfeed"
	"github.com/kibitzerlive/kibitzer/internal/store"
	"github.com/kibitzerlive/kibitzer/internal/uci"
)

// Store is the persistence the analyzer needs.
type Store interface {
	GameFilters(ctx context.Context, gameID int64) (map[string]string, error)
	PositionsForGame(ctx context.Context, gameID int64) ([]*store.Position, error)
	GetOrCreatePosition(ctx context.Context, p *store.Position) (*store.Position, bool, error)
	UpdatePositionScores(ctx context.Context, positionID int64, sc store.PositionScores) error
	InsertEvaluation(ctx context.Context, e *store.Evaluation, moves []store.EvaluationMove) (int64, error)
	SetGameFinished(ctx context.Context, id int64) error
}

// Engine is the slice of the UCI client the analyzer needs.
type Engine interface {
	Analyze(fen string, options map[string]string, multipv int) (Analysis, error)
	MaxMultiPV() int
	ShowPV() int
}

// Analysis is one running engine search.
type Analysis interface {
	Infos() <-chan uci.Info
	Done() <-chan struct{}
	Cancel(ctx context.Context) error
}

// GameSource hands out games to analyze. NextGame blocks until a game is
// available or ctx ends; Release gives an assignment back when the
// analyzer is done with it.
type GameSource interface {
	NextGame(ctx context.Context) (*store.Game, error)
	Release(gameID int64)
}

// Publisher receives everything the analyzer wants shown to viewers.
type Publisher interface {
	PublishPositions(gameID int64, positions []notify.Position)
	PublishEvaluation(gameID int64, ply int, ev notify.Evaluation)
	GameFinished(g *store.Game)
}

// FeedFunc opens a stream of PGN snapshots for a game. It exists so tests
// can inject scripted feeds.
type FeedFunc func(ctx context.Context, url string, filter pgnfeed.Filter) <-chan string

func liveFeed(ctx context.Context, url string, filter pgnfeed.Filter) <-chan string {
	return pgnfeed.New(url, filter, nil).Subscribe(ctx)
}

// Analyzer runs one engine against a sequence of games.
type Analyzer struct {
	name   string
	store  Store
	engine Engine
	source GameSource
	pub    Publisher
	feed   FeedFunc
	log    zerolog.Logger
}

func New(name string, st Store, engine Engine, source GameSource, pub Publisher) *Analyzer {
	return &Analyzer{
		name:   name,
		store:  st,
		engine: engine,
		source: source,
		pub:    pub,
		feed:   liveFeed,
		log:    log.With().Str("analyzer", name).Logger(),
	}
}

// Run analyzes games until ctx ends. Feed and provider hiccups are
// retried or skipped; an engine failure ends the run.
func (a *Analyzer) Run(ctx context.Context) error {
	for {
		game, err := a.source.NextGame(ctx)
		if err != nil {
			return err
		}
		a.log.Info().Int64("game", game.ID).Str("name", game.Name).Msg("analyzing game")

		err = a.runGame(ctx, game)
		a.source.Release(game.ID)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, uci.ErrEngineStartup), errors.Is(err, errEngineGone):
			return err
		case err != nil:
			a.log.Warn().Err(err).Int64("game", game.ID).Msg("game analysis aborted")
		}
	}
}

// errEngineGone marks engine I/O failures that should stop the analyzer.
var errEngineGone = errors.New("analyzer: engine unavailable")

// gameState tracks what has been ingested so far for one game.
type gameState struct {
	maxPly     int
	whiteClock *int
	blackClock *int
}

func (a *Analyzer) runGame(ctx context.Context, game *store.Game) error {
	filter, err := a.store.GameFilters(ctx, game.ID)
	if err != nil {
		return err
	}

	state, err := a.resumeState(ctx, game)
	if err != nil {
		return err
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	snapshots := a.feed(gctx, game.FeedURL, filter)

	var current *runningAnalysis
	defer func() {
		if current != nil {
			current.stop()
		}
	}()

	for snapshot := range snapshots {
		pg, err := kchess.ParsePGN(snapshot)
		if err != nil {
			a.log.Warn().Err(err).Msg("skipping unparseable snapshot")
			continue
		}
		leaf, err := a.ingest(ctx, game, state, pg)
		if err != nil {
			return err
		}

		fen := pg.LeafFEN()
		if current != nil && current.fen == fen {
			continue
		}
		if current != nil {
			current.stop()
			current = nil
		}
		current, err = a.startAnalysis(gctx, game, leaf, pg.LeafBoard())
		if err != nil {
			return err
		}
	}

	if current != nil {
		current.stop()
		current = nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// The feed closed on a terminal result.
	if err := a.store.SetGameFinished(ctx, game.ID); err != nil {
		return err
	}
	game.IsFinished = true
	a.pub.GameFinished(game)
	a.log.Info().Int64("game", game.ID).Msg("game finished")
	return nil
}

// resumeState rebuilds the ingest cursor from positions stored by an
// earlier run.
func (a *Analyzer) resumeState(ctx context.Context, game *store.Game) (*gameState, error) {
	positions, err := a.store.PositionsForGame(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	state := &gameState{}
	if len(positions) > 0 {
		last := positions[len(positions)-1]
		state.maxPly = last.Ply
		state.whiteClock = last.WhiteClock
		state.blackClock = last.BlackClock
	}
	return state, nil
}

// ingest stores every mainline position the snapshot adds and publishes
// the new ones. It returns the stored row for the snapshot's leaf.
func (a *Analyzer) ingest(ctx context.Context, game *store.Game, state *gameState, pg *kchess.PGNGame) (*store.Position, error) {
	var created []notify.Position

	leaf, err := a.ensurePosition(ctx, &store.Position{
		GameID: game.ID,
		Ply:    0,
		FEN:    pg.StartFEN(),
	}, state, &created)
	if err != nil {
		return nil, err
	}

	for _, step := range pg.Mainline() {
		// A mover's clock comment is their remaining time after the
		// move; the opponent's clock carries over unchanged.
		if step.ClockSecs != nil {
			if step.WhiteMoved {
				state.whiteClock = step.ClockSecs
			} else {
				state.blackClock = step.ClockSecs
			}
		}
		leaf, err = a.ensurePosition(ctx, &store.Position{
			GameID:     game.ID,
			Ply:        step.Ply,
			MoveUCI:    step.UCI,
			MoveSAN:    step.SAN,
			FEN:        step.FEN,
			WhiteClock: state.whiteClock,
			BlackClock: state.blackClock,
		}, state, &created)
		if err != nil {
			return nil, err
		}
	}

	if len(created) > 0 {
		a.pub.PublishPositions(game.ID, created)
	}
	return leaf, nil
}

func (a *Analyzer) ensurePosition(ctx context.Context, p *store.Position, state *gameState, created *[]notify.Position) (*store.Position, error) {
	stored, isNew, err := a.store.GetOrCreatePosition(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("store position ply %d: %w", p.Ply, err)
	}
	if isNew {
		*created = append(*created, positionFrame(stored))
	}
	if stored.Ply > state.maxPly {
		state.maxPly = stored.Ply
	}
	return stored, nil
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
