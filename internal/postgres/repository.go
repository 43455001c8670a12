package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runthrough-pairing/internal/config"
	"github.com/runthrough-pairing/internal/domain"
)

// DB is the part of a connection pool the repository talks to
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Repository archives tournament snapshots in PostgreSQL
type Repository struct {
	pool   DB
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryWithPool(pool, logger), nil
}

// NewRepositoryWithPool creates a repository on an existing pool
func NewRepositoryWithPool(pool DB, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tournaments (
			id BIGINT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			snapshot JSONB NOT NULL,
			player_count INT NOT NULL DEFAULT 0,
			match_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			archived_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tournament_matches (
			tournament_id BIGINT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
			match_id INT NOT NULL,
			round INT NOT NULL,
			white_player_id INT NOT NULL,
			black_player_id INT NOT NULL,
			result VARCHAR(8) NOT NULL DEFAULT '',
			batch_id VARCHAR(64) NOT NULL DEFAULT '',
			played_at TIMESTAMPTZ,
			PRIMARY KEY (tournament_id, match_id)
		)`,
		`CREATE TABLE IF NOT EXISTS result_events (
			id BIGSERIAL PRIMARY KEY,
			tournament_id BIGINT NOT NULL,
			match_id INT NOT NULL,
			result VARCHAR(8) NOT NULL,
			source VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tournament_matches_white ON tournament_matches(tournament_id, white_player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tournament_matches_black ON tournament_matches(tournament_id, black_player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_result_events_tournament ON result_events(tournament_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// ArchiveTournament stores the snapshot of t and replaces its match rows
func (r *Repository) ArchiveTournament(ctx context.Context, t *domain.Tournament) error {
	snapshot, err := t.MarshalSnapshot()
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tournaments (id, name, snapshot, player_count, match_count, created_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET name = $2, snapshot = $3, player_count = $4, match_count = $5, archived_at = $7
	`
	_, err = tx.Exec(ctx, query,
		t.ID,
		t.Name,
		snapshot,
		len(t.Players),
		len(t.Matches),
		t.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("archiving tournament %d: %w", t.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tournament_matches WHERE tournament_id = $1`, t.ID); err != nil {
		return fmt.Errorf("clearing archived matches: %w", err)
	}

	if len(t.Matches) > 0 {
		batch := &pgx.Batch{}
		insert := `
			INSERT INTO tournament_matches
				(tournament_id, match_id, round, white_player_id, black_player_id, result, batch_id, played_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		for _, m := range t.Matches {
			batch.Queue(insert, t.ID, m.ID, m.Round, m.WhitePlayerID, m.BlackPlayerID,
				string(m.Result), m.BatchID, m.PlayedAt)
		}

		br := tx.SendBatch(ctx, batch)
		for range t.Matches {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("archiving matches: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("closing match batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing archive: %w", err)
	}
	return nil
}

// LoadTournament reads an archived snapshot
func (r *Repository) LoadTournament(ctx context.Context, id int64) (*domain.Tournament, error) {
	var snapshot []byte
	err := r.pool.QueryRow(ctx, `SELECT snapshot FROM tournaments WHERE id = $1`, id).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTournamentNotFound
		}
		return nil, fmt.Errorf("loading archived tournament: %w", err)
	}
	return domain.UnmarshalSnapshot(snapshot)
}

// ListTournamentIDs returns the ids of all archived tournaments
func (r *Repository) ListTournamentIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tournaments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing archived tournaments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tournament id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tournament ids: %w", err)
	}
	return ids, nil
}

// DeleteTournament removes an archived tournament and its matches
func (r *Repository) DeleteTournament(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM tournaments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting archived tournament: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrTournamentNotFound
	}
	return nil
}

// RecordResultEvents stores applied results for auditing
func (r *Repository) RecordResultEvents(ctx context.Context, events []domain.ResultEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO result_events (tournament_id, match_id, result, source, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, e := range events {
		batch.Queue(query, e.TournamentID, e.MatchID, string(e.Result), e.Source, e.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording result events: %w", err)
		}
	}
	return nil
}
