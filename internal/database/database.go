// internal/database/database.go

// Package database implements the persistence collaborator over Postgres.
// The server only ever touches two stored procedures: login_bot, which
// returns a bot's rank, and save_game, which records a finished match.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/amanahuja/codewars-server/internal/game"
)

// Postgres is a pgx-backed implementation of the server's Store interface.
type Postgres struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger logrus.FieldLogger) (*Postgres, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, log: logger}, nil
}

// LoginBot looks up the connecting bot's rank.
func (p *Postgres) LoginBot(ctx context.Context, botID int) (int, error) {
	var rank int
	if err := p.pool.QueryRow(ctx, "SELECT login_bot($1)", botID).Scan(&rank); err != nil {
		return -1, fmt.Errorf("login_bot(%d): %w", botID, err)
	}
	return rank, nil
}

// SaveGame records a finished match: the winner, the four seats in turn
// order and the full history text.
func (p *Postgres) SaveGame(ctx context.Context, winnerID int, seats [game.NumSeats]int, history string) error {
	_, err := p.pool.Exec(ctx, "CALL save_game($1, $2, $3, $4, $5, $6)",
		winnerID, seats[0], seats[1], seats[2], seats[3], history)
	if err != nil {
		return fmt.Errorf("save_game(winner=%d): %w", winnerID, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
