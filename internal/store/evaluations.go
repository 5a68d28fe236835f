package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertEvaluation stores an evaluation and its engine lines in one
// transaction and returns the new evaluation id.
func (s *Store) InsertEvaluation(ctx context.Context, e *Evaluation, moves []EvaluationMove) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO evaluations (position_id, nodes, time_ms, depth, seldepth, moves_left)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.PositionID, e.Nodes, e.TimeMS, e.Depth, e.SelDepth, e.MovesLeft).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert evaluation: %w", err)
	}

	for _, m := range moves {
		if _, err := tx.Exec(ctx,
			`INSERT INTO evaluation_moves (evaluation_id, multipv, nodes, move_uci, move_san,
				q_score, pv_san, pv_uci, mate_score, white_wins, draws, black_wins, moves_left)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			id, m.MultiPV, m.Nodes, m.MoveUCI, m.MoveSAN,
			m.QScore, m.PVSAN, m.PVUCI, m.MateScore, m.WhiteWins, m.Draws, m.BlackWins, m.MovesLeft); err != nil {
			return 0, fmt.Errorf("insert evaluation line %d: %w", m.MultiPV, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// LatestEvaluation returns the most recent evaluation of (game, ply) with
// its lines, or ErrNotFound when the ply has never been evaluated.
func (s *Store) LatestEvaluation(ctx context.Context, gameID int64, ply int) (*Evaluation, []EvaluationMove, error) {
	var e Evaluation
	err := s.pool.QueryRow(ctx,
		`SELECT e.id, e.position_id, e.nodes, e.time_ms, e.depth, e.seldepth, e.moves_left, e.created_at
		 FROM evaluations e
		 JOIN positions p ON p.id = e.position_id
		 WHERE p.game_id = $1 AND p.ply = $2
		 ORDER BY e.id DESC LIMIT 1`,
		gameID, ply).Scan(&e.ID, &e.PositionID, &e.Nodes, &e.TimeMS, &e.Depth, &e.SelDepth, &e.MovesLeft, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load evaluation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, evaluation_id, multipv, nodes, move_uci, move_san,
			q_score, pv_san, pv_uci, mate_score, white_wins, draws, black_wins, moves_left
		 FROM evaluation_moves WHERE evaluation_id = $1 ORDER BY multipv`, e.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load evaluation lines: %w", err)
	}
	defer rows.Close()

	var moves []EvaluationMove
	for rows.Next() {
		var m EvaluationMove
		if err := rows.Scan(&m.ID, &m.EvaluationID, &m.MultiPV, &m.Nodes, &m.MoveUCI, &m.MoveSAN,
			&m.QScore, &m.PVSAN, &m.PVUCI, &m.MateScore, &m.WhiteWins, &m.Draws, &m.BlackWins, &m.MovesLeft); err != nil {
			return nil, nil, err
		}
		moves = append(moves, m)
	}
	return &e, moves, rows.Err()
}
