// Package store persists tournaments, games, positions and engine
// evaluations in PostgreSQL. All SQL is hand-written against pgx; the
// schema is created idempotently at startup.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at the given URL and verifies the
// connection.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tournaments (
		id            BIGSERIAL PRIMARY KEY,
		ext_id        TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		is_finished   BOOLEAN NOT NULL DEFAULT FALSE,
		is_hidden     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS games (
		id               BIGSERIAL PRIMARY KEY,
		tournament_id    BIGINT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
		ext_id           TEXT NOT NULL UNIQUE,
		round_ext_id     TEXT NOT NULL,
		round_name       TEXT NOT NULL,
		name             TEXT NOT NULL,
		feed_url         TEXT NOT NULL,
		player1_name     TEXT NOT NULL,
		player1_rating   INT,
		player1_fide_id  BIGINT,
		player1_fed      TEXT,
		player2_name     TEXT NOT NULL,
		player2_rating   INT,
		player2_fide_id  BIGINT,
		player2_fed      TEXT,
		is_finished      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS game_filters (
		game_id  BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		key      TEXT NOT NULL,
		value    TEXT NOT NULL,
		PRIMARY KEY (game_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id           BIGSERIAL PRIMARY KEY,
		game_id      BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		ply          INT NOT NULL,
		move_uci     TEXT NOT NULL,
		move_san     TEXT NOT NULL,
		fen          TEXT NOT NULL,
		white_clock  INT,
		black_clock  INT,
		q_score      INT,
		white_wins   INT,
		draws        INT,
		black_wins   INT,
		nodes        BIGINT,
		time_ms      BIGINT,
		depth        INT,
		seldepth     INT,
		moves_left   INT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (game_id, ply)
	)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		id           BIGSERIAL PRIMARY KEY,
		position_id  BIGINT NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
		nodes        BIGINT NOT NULL,
		time_ms      BIGINT NOT NULL,
		depth        INT NOT NULL,
		seldepth     INT NOT NULL,
		moves_left   INT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS evaluations_position_idx ON evaluations (position_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS evaluation_moves (
		id             BIGSERIAL PRIMARY KEY,
		evaluation_id  BIGINT NOT NULL REFERENCES evaluations(id) ON DELETE CASCADE,
		multipv        INT NOT NULL,
		nodes          BIGINT NOT NULL,
		move_uci       TEXT NOT NULL,
		move_san       TEXT NOT NULL,
		q_score        INT NOT NULL,
		pv_san         TEXT NOT NULL,
		pv_uci         TEXT NOT NULL,
		mate_score     INT,
		white_wins     INT,
		draws          INT,
		black_wins     INT,
		moves_left     INT,
		UNIQUE (evaluation_id, multipv)
	)`,
}

// Init creates any missing tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Debug().Msg("database schema ready")
	return nil
}
