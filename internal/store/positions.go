package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const positionCols = `id, game_id, ply, move_uci, move_san, fen,
	white_clock, black_clock, q_score, white_wins, draws, black_wins,
	nodes, time_ms, depth, seldepth, moves_left`

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(&p.ID, &p.GameID, &p.Ply, &p.MoveUCI, &p.MoveSAN, &p.FEN,
		&p.WhiteClock, &p.BlackClock, &p.QScore, &p.WhiteWins, &p.Draws, &p.BlackWins,
		&p.Nodes, &p.TimeMS, &p.Depth, &p.SelDepth, &p.MovesLeft)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreatePosition inserts a position row for (game, ply) unless one
// already exists, and reports whether the row is new. An existing row is
// returned untouched, so replayed feed snapshots never rewrite history.
func (s *Store) GetOrCreatePosition(ctx context.Context, p *Position) (*Position, bool, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO positions (game_id, ply, move_uci, move_san, fen, white_clock, black_clock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (game_id, ply) DO NOTHING
		 RETURNING `+positionCols,
		p.GameID, p.Ply, p.MoveUCI, p.MoveSAN, p.FEN, p.WhiteClock, p.BlackClock)

	created, err := scanPosition(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("insert position: %w", err)
	}

	existing, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE game_id = $1 AND ply = $2`,
		p.GameID, p.Ply))
	if err != nil {
		return nil, false, fmt.Errorf("load position: %w", err)
	}
	return existing, false, nil
}

// UpdatePositionScores mirrors the latest bundle's verdict onto the
// position row.
func (s *Store) UpdatePositionScores(ctx context.Context, positionID int64, sc PositionScores) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET q_score = $2, white_wins = $3, draws = $4, black_wins = $5,
			nodes = $6, time_ms = $7, depth = $8, seldepth = $9, moves_left = $10
		 WHERE id = $1`,
		positionID, sc.QScore, sc.WhiteWins, sc.Draws, sc.BlackWins,
		sc.Nodes, sc.TimeMS, sc.Depth, sc.SelDepth, sc.MovesLeft)
	if err != nil {
		return fmt.Errorf("update position scores: %w", err)
	}
	return nil
}

// PositionsForGame returns a game's mainline in ply order.
func (s *Store) PositionsForGame(ctx context.Context, gameID int64) ([]*Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE game_id = $1 ORDER BY ply`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
