// Package supervisor owns the shared state between analyzers and
// viewers: it assigns games to analyzers, keeps the audience informed
// with status and game-card frames, and answers viewer watch requests
// with snapshots.
package supervisor

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kibitzerlive/kibitzer/internal/notify"
	"github.com/kibitzerlive/kibitzer/internal/selector"
	"github.com/kibitzerlive/kibitzer/internal/store"
)

const (
	statusInterval = 33 * time.Second
	idleRetry      = 10 * time.Second
)

// Store is the persistence the supervisor needs.
type Store interface {
	NextUnfinishedGame(ctx context.Context, assigned []int64) (*store.Game, error)
	GetGame(ctx context.Context, id int64) (*store.Game, error)
	VisibleGames(ctx context.Context) ([]*store.Game, error)
	UnfinishedTournaments(ctx context.Context) ([]*store.Tournament, error)
	SetTournamentFinished(ctx context.Context, id int64) error
	PositionsForGame(ctx context.Context, gameID int64) ([]*store.Position, error)
	LatestEvaluation(ctx context.Context, gameID int64, ply int) (*store.Evaluation, []store.EvaluationMove, error)
}

// Picker materializes the next board of a tournament worth analyzing.
type Picker interface {
	NextGame(ctx context.Context, t *store.Tournament) (*store.Game, error)
}

// Supervisor implements the analyzers' game source and the viewers'
// subscription surface.
type Supervisor struct {
	store    Store
	picker   Picker
	notifier *notify.Notifier
	jsHash   string

	// assignMu serializes game assignment so concurrent analyzers never
	// pick the same game.
	assignMu sync.Mutex
	assigned map[int64]bool
}

func New(st Store, picker Picker, notifier *notify.Notifier, staticDir string) *Supervisor {
	return &Supervisor{
		store:    st,
		picker:   picker,
		notifier: notifier,
		jsHash:   hashStaticJS(staticDir),
		assigned: map[int64]bool{},
	}
}

// hashStaticJS fingerprints the served JS once at startup so clients can
// detect a redeploy and reload.
func hashStaticJS(staticDir string) string {
	paths, err := filepath.Glob(filepath.Join(staticDir, "*.js"))
	if err != nil || len(paths) == 0 {
		return ""
	}
	sort.Strings(paths)
	h := md5.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Run broadcasts the periodic status frame until ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.notifier.Broadcast(notify.Frame{Status: s.status()}, nil, nil)
		}
	}
}

func (s *Supervisor) status() *notify.Status {
	return &notify.Status{
		Message:    "ok",
		NumViewers: s.notifier.NumSubscribers(),
		JSHash:     s.jsHash,
	}
}

// NextGame blocks until a game is available for analysis: first a stored
// unfinished game nobody is working on, then a fresh board materialized
// from a followed tournament.
func (s *Supervisor) NextGame(ctx context.Context) (*store.Game, error) {
	for {
		game, err := s.pickGame(ctx)
		if err == nil {
			s.broadcastCard(game)
			return game, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Info().Msg("no games to analyze, waiting")
		select {
		case <-time.After(idleRetry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Supervisor) pickGame(ctx context.Context) (*store.Game, error) {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	assigned := make([]int64, 0, len(s.assigned))
	for id := range s.assigned {
		assigned = append(assigned, id)
	}

	game, err := s.store.NextUnfinishedGame(ctx, assigned)
	if err == nil {
		s.assigned[game.ID] = true
		return game, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tournaments, err := s.store.UnfinishedTournaments(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tournaments {
		game, err := s.picker.NextGame(ctx, t)
		switch {
		case err == nil:
			s.assigned[game.ID] = true
			return game, nil
		case errors.Is(err, selector.ErrTournamentFinished):
			log.Info().Str("tournament", t.ExtID).Msg("all rounds finished")
			if err := s.store.SetTournamentFinished(ctx, t.ID); err != nil {
				return nil, err
			}
		case errors.Is(err, selector.ErrNoCandidates), errors.Is(err, selector.ErrAmbiguousGame):
			log.Debug().Err(err).Str("tournament", t.ExtID).Msg("no board selected")
		default:
			log.Warn().Err(err).Str("tournament", t.ExtID).Msg("board selection failed")
		}
	}
	return nil, store.ErrNotFound
}

// Release returns an assignment and refreshes the game's card.
func (s *Supervisor) Release(gameID int64) {
	s.assignMu.Lock()
	delete(s.assigned, gameID)
	s.assignMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		log.Warn().Err(err).Int64("game", gameID).Msg("refresh card after release")
		return
	}
	s.broadcastCard(game)
}

func (s *Supervisor) isAssigned(gameID int64) bool {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()
	return s.assigned[gameID]
}

// PublishPositions sends new mainline positions to the game's watchers.
func (s *Supervisor) PublishPositions(gameID int64, positions []notify.Position) {
	s.notifier.Broadcast(notify.Frame{Positions: positions}, &gameID, nil)
}

// PublishEvaluation sends a fresh evaluation to watchers of its ply.
func (s *Supervisor) PublishEvaluation(gameID int64, ply int, ev notify.Evaluation) {
	s.notifier.Broadcast(notify.Frame{Evaluations: []notify.Evaluation{ev}}, &gameID, &ply)
}

// GameFinished refreshes a finished game's card for everyone.
func (s *Supervisor) GameFinished(g *store.Game) {
	s.broadcastCard(g)
}

func (s *Supervisor) broadcastCard(g *store.Game) {
	s.notifier.Broadcast(notify.Frame{Games: []notify.GameEntry{s.gameEntry(g)}}, nil, nil)
}

func (s *Supervisor) gameEntry(g *store.Game) notify.GameEntry {
	return notify.GameEntry{
		GameID:          g.ID,
		Name:            g.Name,
		IsFinished:      g.IsFinished,
		IsBeingAnalyzed: s.isAssigned(g.ID),
		Player1:         playerCard(g.Player1),
		Player2:         playerCard(g.Player2),
		FeedURL:         g.FeedURL,
	}
}

func playerCard(p store.PlayerInfo) notify.PlayerCard {
	return notify.PlayerCard{Name: p.Name, Rating: p.Rating, FideID: p.FideID, Fed: p.Fed}
}
