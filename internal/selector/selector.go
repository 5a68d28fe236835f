// Package selector decides which board of a live round should be analyzed
// next and materializes it as a stored game with the PGN header filter
// that identifies it on the feed.
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kibitzerlive/kibitzer/internal/catalog"
	kchess "github.com/kibitzerlive/kibitzer/internal/chess"
	"github.com/kibitzerlive/kibitzer/internal/store"
)

// ErrAmbiguousGame is returned when a chosen board cannot be matched to
// exactly one game of the round PGN.
var ErrAmbiguousGame = errors.New("selector: board matches zero or several PGN games")

// ErrTournamentFinished is returned when the provider reports every round
// of the tournament as finished.
var ErrTournamentFinished = errors.New("selector: all rounds finished")

// ErrNoCandidates is returned when the tournament is still running but no
// untracked live board exists.
var ErrNoCandidates = errors.New("selector: no new candidate boards")

// noClock orders boards without clock data after every board that has it.
const noClock = int64(999999 * 100)

// filterKeys are the PGN headers stored as a game's feed filter, when
// present.
var filterKeys = []string{
	"Event", "Date", "Round", "White", "Black",
	"WhiteElo", "BlackElo", "WhiteFideId", "BlackFideId",
	"WhiteFed", "BlackFed", "TimeControl",
}

// Catalog is the slice of the provider API the selector needs.
type Catalog interface {
	GetTournament(ctx context.Context, tournamentID string) (*catalog.Tournament, error)
	GetRoundBoards(ctx context.Context, roundID string) (*catalog.RoundBoards, error)
	FetchRoundPGNs(ctx context.Context, roundID string) ([]string, error)
	StreamURL(roundID string) string
}

// Store is the persistence the selector needs.
type Store interface {
	GameExists(ctx context.Context, extID string) (bool, error)
	CreateGame(ctx context.Context, g *store.Game, filters map[string]string) (int64, error)
}

// Selector picks and materializes boards.
type Selector struct {
	catalog Catalog
	store   Store
}

func New(cat Catalog, st Store) *Selector {
	return &Selector{catalog: cat, store: st}
}

// candidate is an untracked live board together with the round it was
// found in.
type candidate struct {
	round catalog.Round
	board catalog.BoardGame
}

// NextGame rediscovers the tournament's rounds, collects untracked live
// boards across every ongoing one and materializes the most urgent. It
// returns ErrTournamentFinished when the provider reports all rounds
// finished, ErrNoCandidates when every live board is tracked, and
// ErrAmbiguousGame when the chosen board cannot be pinned to one PGN game.
func (s *Selector) NextGame(ctx context.Context, t *store.Tournament) (*store.Game, error) {
	tour, err := s.catalog.GetTournament(ctx, t.ExtID)
	if err != nil {
		return nil, err
	}

	allFinished := true
	var candidates []candidate
	for _, r := range tour.Rounds {
		if !r.Finished {
			allFinished = false
		}
		if !r.Ongoing {
			continue
		}
		rb, err := s.catalog.GetRoundBoards(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range liveBoards(rb.Games) {
			exists, err := s.store.GameExists(ctx, boardExtID(r.ID, b.ID))
			if err != nil {
				return nil, err
			}
			if !exists {
				candidates = append(candidates, candidate{round: r, board: b})
			}
		}
	}
	if allFinished {
		return nil, ErrTournamentFinished
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	best := bestCandidate(candidates)
	log.Info().Str("board", best.board.Name).Str("round", best.round.ID).Msg("selected board")

	pgns, err := s.catalog.FetchRoundPGNs(ctx, best.round.ID)
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, t, best.round, best.board, pgns)
}

func liveBoards(boards []catalog.BoardGame) []catalog.BoardGame {
	var out []catalog.BoardGame
	for _, b := range boards {
		if b.Status == "" || b.Status == "*" {
			out = append(out, b)
		}
	}
	return out
}

func boardExtID(roundID, boardID string) string {
	return roundID + "/" + boardID
}

// PickBest chooses the board whose slower player has the least time left:
// the game most likely to be decided soon. Boards without clock data sort
// last. Ties keep the provider's board order.
func PickBest(boards []catalog.BoardGame) catalog.BoardGame {
	best := boards[0]
	bestClock := maxClock(best)
	for _, b := range boards[1:] {
		if c := maxClock(b); c < bestClock {
			best, bestClock = b, c
		}
	}
	return best
}

// bestCandidate is PickBest across rounds.
func bestCandidate(cands []candidate) candidate {
	best := cands[0]
	bestClock := maxClock(best.board)
	for _, c := range cands[1:] {
		if mc := maxClock(c.board); mc < bestClock {
			best, bestClock = c, mc
		}
	}
	return best
}

func maxClock(b catalog.BoardGame) int64 {
	clock := int64(-1)
	for _, p := range b.Players {
		c := noClock
		if p.Clock != nil {
			c = *p.Clock
		}
		if c > clock {
			clock = c
		}
	}
	if clock < 0 {
		return noClock
	}
	return clock
}

// materialize matches the board to exactly one game of the round PGN and
// stores it.
func (s *Selector) materialize(ctx context.Context, t *store.Tournament, round catalog.Round, board catalog.BoardGame, pgns []string) (*store.Game, error) {
	var matched *kchess.PGNGame
	matches := 0
	for _, text := range pgns {
		g, err := kchess.ParsePGN(text)
		if err != nil {
			log.Warn().Err(err).Msg("skipping unparseable round PGN")
			continue
		}
		if matchBoard(board, g) {
			matched = g
			matches++
		}
	}
	if matches != 1 {
		return nil, fmt.Errorf("%w: %q matched %d games", ErrAmbiguousGame, board.Name, matches)
	}

	game := &store.Game{
		TournamentID: t.ID,
		ExtID:        boardExtID(round.ID, board.ID),
		RoundExtID:   round.ID,
		RoundName:    round.Name,
		Name:         fmt.Sprintf("%s (%s) --- %s", board.Name, round.Name, t.Name),
		FeedURL:      s.catalog.StreamURL(round.ID),
		Player1:      playerInfo(board, 0),
		Player2:      playerInfo(board, 1),
	}
	id, err := s.store.CreateGame(ctx, game, FilterHeaders(matched))
	if err != nil {
		return nil, err
	}
	game.ID = id
	return game, nil
}

func playerInfo(b catalog.BoardGame, idx int) store.PlayerInfo {
	if idx >= len(b.Players) {
		return store.PlayerInfo{}
	}
	p := b.Players[idx]
	return store.PlayerInfo{Name: p.Name, Rating: p.Rating, FideID: p.FideID, Fed: p.Fed}
}

// matchBoard reports whether a PGN game is the given board. A field only
// constrains the match when both the provider and the PGN headers supply
// it; the game must still be running.
func matchBoard(b catalog.BoardGame, g *kchess.PGNGame) bool {
	if g.Result() != "*" {
		return false
	}
	white, black := boardPlayer(b, 0), boardPlayer(b, 1)
	return headerEq(g, "White", &white.Name) &&
		headerEq(g, "Black", &black.Name) &&
		headerEqInt(g, "WhiteElo", white.Rating) &&
		headerEqInt(g, "BlackElo", black.Rating) &&
		headerEqInt64(g, "WhiteFideId", white.FideID) &&
		headerEqInt64(g, "BlackFideId", black.FideID)
}

func boardPlayer(b catalog.BoardGame, idx int) catalog.Player {
	if idx >= len(b.Players) {
		return catalog.Player{}
	}
	return b.Players[idx]
}

func headerEq(g *kchess.PGNGame, key string, want *string) bool {
	if want == nil || *want == "" {
		return true
	}
	v, ok := g.Header(key)
	if !ok || v == "" {
		return true
	}
	return v == *want
}

func headerEqInt(g *kchess.PGNGame, key string, want *int) bool {
	if want == nil {
		return true
	}
	v, ok := g.Header(key)
	if !ok || v == "" {
		return true
	}
	return v == fmt.Sprint(*want)
}

func headerEqInt64(g *kchess.PGNGame, key string, want *int64) bool {
	if want == nil {
		return true
	}
	v, ok := g.Header(key)
	if !ok || v == "" {
		return true
	}
	return v == fmt.Sprint(*want)
}

// FilterHeaders extracts the stored feed filter from a matched game: the
// identifying headers it actually carries.
func FilterHeaders(g *kchess.PGNGame) map[string]string {
	filters := map[string]string{}
	for _, k := range filterKeys {
		if v, ok := g.Header(k); ok && v != "" {
			filters[k] = v
		}
	}
	return filters
}
