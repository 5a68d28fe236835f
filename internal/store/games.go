package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const gameCols = `id, tournament_id, ext_id, round_ext_id, round_name, name, feed_url,
	player1_name, player1_rating, player1_fide_id, player1_fed,
	player2_name, player2_rating, player2_fide_id, player2_fed,
	is_finished, created_at`

func scanGame(row pgx.Row) (*Game, error) {
	var g Game
	err := row.Scan(&g.ID, &g.TournamentID, &g.ExtID, &g.RoundExtID, &g.RoundName, &g.Name, &g.FeedURL,
		&g.Player1.Name, &g.Player1.Rating, &g.Player1.FideID, &g.Player1.Fed,
		&g.Player2.Name, &g.Player2.Rating, &g.Player2.FideID, &g.Player2.Fed,
		&g.IsFinished, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGame inserts a game together with the PGN header filter that
// identifies it on the feed, in one transaction.
func (s *Store) CreateGame(ctx context.Context, g *Game, filters map[string]string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO games (tournament_id, ext_id, round_ext_id, round_name, name, feed_url,
			player1_name, player1_rating, player1_fide_id, player1_fed,
			player2_name, player2_rating, player2_fide_id, player2_fed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		g.TournamentID, g.ExtID, g.RoundExtID, g.RoundName, g.Name, g.FeedURL,
		g.Player1.Name, g.Player1.Rating, g.Player1.FideID, g.Player1.Fed,
		g.Player2.Name, g.Player2.Rating, g.Player2.FideID, g.Player2.Fed).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}

	for k, v := range filters {
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_filters (game_id, key, value) VALUES ($1, $2, $3)`,
			id, k, v); err != nil {
			return 0, fmt.Errorf("insert game filter %q: %w", k, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetGame fetches one game by id.
func (s *Store) GetGame(ctx context.Context, id int64) (*Game, error) {
	return scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameCols+` FROM games WHERE id = $1`, id))
}

// GameExists reports whether a game with the given provider id is already
// tracked.
func (s *Store) GameExists(ctx context.Context, extID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM games WHERE ext_id = $1)`, extID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("game exists: %w", err)
	}
	return exists, nil
}

func (s *Store) queryGames(ctx context.Context, q string, args ...any) ([]*Game, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []*Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListGames returns every game, newest first.
func (s *Store) ListGames(ctx context.Context) ([]*Game, error) {
	return s.queryGames(ctx,
		`SELECT `+gameCols+` FROM games ORDER BY created_at DESC, id DESC`)
}

// VisibleGames returns the games shown on the site, in id order: games of
// non-hidden tournaments, plus unfinished games even when their
// tournament is hidden.
func (s *Store) VisibleGames(ctx context.Context) ([]*Game, error) {
	return s.queryGames(ctx,
		`SELECT `+gameCols+` FROM games g
		 WHERE EXISTS (
			SELECT 1 FROM tournaments t
			WHERE t.id = g.tournament_id AND (NOT t.is_hidden OR NOT g.is_finished)
		 )
		 ORDER BY g.id`)
}

// NextUnfinishedGame returns the oldest unfinished game not currently
// assigned to an analyzer, or ErrNotFound.
func (s *Store) NextUnfinishedGame(ctx context.Context, assigned []int64) (*Game, error) {
	return scanGame(s.pool.QueryRow(ctx,
		`SELECT `+gameCols+` FROM games
		 WHERE NOT is_finished AND NOT (id = ANY($1))
		 ORDER BY created_at, id LIMIT 1`, assigned))
}

// SetGameFinished marks a game done.
func (s *Store) SetGameFinished(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE games SET is_finished = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("finish game %d: %w", id, err)
	}
	return nil
}

// GameFilters loads the PGN header filter stored for a game.
func (s *Store) GameFilters(ctx context.Context, gameID int64) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM game_filters WHERE game_id = $1`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load game filters: %w", err)
	}
	defer rows.Close()

	filters := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		filters[k] = v
	}
	return filters, rows.Err()
}
