package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateTournament inserts a tournament row, or returns the existing one
// for the same provider event.
func (s *Store) CreateTournament(ctx context.Context, t *Tournament) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tournaments (ext_id, name, is_hidden)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (ext_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		t.ExtID, t.Name, t.IsHidden).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert tournament: %w", err)
	}
	return id, nil
}

const tournamentCols = `id, ext_id, name, is_finished, is_hidden, created_at`

func scanTournament(row pgx.Row) (*Tournament, error) {
	var t Tournament
	err := row.Scan(&t.ID, &t.ExtID, &t.Name,
		&t.IsFinished, &t.IsHidden, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTournament fetches one tournament by id.
func (s *Store) GetTournament(ctx context.Context, id int64) (*Tournament, error) {
	return scanTournament(s.pool.QueryRow(ctx,
		`SELECT `+tournamentCols+` FROM tournaments WHERE id = $1`, id))
}

// UnfinishedTournaments lists tournaments still being followed, oldest
// first.
func (s *Store) UnfinishedTournaments(ctx context.Context) ([]*Tournament, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tournamentCols+` FROM tournaments
		 WHERE NOT is_finished ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	defer rows.Close()

	var out []*Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTournamentFinished marks a tournament done.
func (s *Store) SetTournamentFinished(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tournaments SET is_finished = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("finish tournament %d: %w", id, err)
	}
	return nil
}
