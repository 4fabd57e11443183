package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/service"
)

// registrationLockID is the advisory lock taken while a new player claims the bottom rank.
const registrationLockID = 7_202_401

const (
	uniqueViolation          = "23505"
	usernameConstraint       = "players_username_key"
	rankConstraint           = "players_rank_unique"
	playerColumns            = `id, username, COALESCE(email, ''), rank, created_at, updated_at`
	challengeColumns         = `id, challenger_id, challengee_id, status, challenger_score, challengee_score, created_at, updated_at`
	challengeOrderByCreation = ` ORDER BY created_at, id`
)

// Querier is implemented by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	q      Querier
	inTx   bool
	logger *slog.Logger
}

var _ service.Store = (*Repository)(nil)

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

	return &Repository{
		pool:   pool,
		q:      pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			email VARCHAR(50),
			rank INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT players_username_key UNIQUE (username)
		)`,
		// The sentinel rank used mid-exchange sits outside the index.
		`CREATE UNIQUE INDEX IF NOT EXISTS players_rank_unique ON players(rank) WHERE rank > 0`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id VARCHAR(64) PRIMARY KEY,
			challenger_id VARCHAR(64) NOT NULL REFERENCES players(id),
			challengee_id VARCHAR(64) NOT NULL REFERENCES players(id),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			challenger_score INT,
			challengee_score INT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CHECK (challenger_id <> challengee_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rank_exchanges (
			id VARCHAR(64) PRIMARY KEY,
			challenge_id VARCHAR(64) REFERENCES challenges(id),
			player_a_id VARCHAR(64) NOT NULL REFERENCES players(id),
			player_b_id VARCHAR(64) NOT NULL REFERENCES players(id),
			rank_a INT NOT NULL,
			rank_b INT NOT NULL,
			exchanged_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_challenger ON challenges(challenger_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_challengee ON challenges(challengee_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_rank_exchanges_players ON rank_exchanges(player_a_id, player_b_id, exchanged_at DESC)`,
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

// WithTx runs fn in a database transaction, committing when fn returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(tx service.Store) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&Repository{pool: r.pool, q: tx, inTx: true, logger: r.logger}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	player, err := scanPlayer(r.q.QueryRow(ctx, query, playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

// ListPlayers retrieves every player ordered by rank
func (r *Repository) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players ORDER BY rank, id`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, *player)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

// CreatePlayer inserts a player one rank below the current bottom
func (r *Repository) CreatePlayer(ctx context.Context, player *domain.Player) error {
	if r.inTx {
		if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLockID); err != nil {
			return fmt.Errorf("locking registration: %w", err)
		}
	}

	query := `
		INSERT INTO players (id, username, email, rank, created_at, updated_at)
		SELECT $1, $2, NULLIF($3, ''), COALESCE(MAX(rank), 0) + 1, $4, $4
		FROM players
		RETURNING rank
	`
	err := r.q.QueryRow(ctx, query, player.ID, player.Username, player.Email, player.CreatedAt).Scan(&player.Rank)
	if err != nil {
		if constraint, ok := uniqueViolationOn(err); ok && constraint == usernameConstraint {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// SetRank moves a player to a rank
func (r *Repository) SetRank(ctx context.Context, playerID string, rank int) error {
	query := `UPDATE players SET rank = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.q.Exec(ctx, query, playerID, rank)
	if err != nil {
		if constraint, ok := uniqueViolationOn(err); ok && constraint == rankConstraint {
			return fmt.Errorf("rank %d is already held: %w", rank, err)
		}
		return fmt.Errorf("setting rank %d for %s: %w", rank, playerID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// LockPlayers takes row locks on the players in ID order. Outside a
// transaction the locks would be released immediately, so it does nothing.
func (r *Repository) LockPlayers(ctx context.Context, playerIDs ...string) error {
	if !r.inTx || len(playerIDs) == 0 {
		return nil
	}
	query := `SELECT id FROM players WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := r.q.Query(ctx, query, playerIDs)
	if err != nil {
		return fmt.Errorf("locking players: %w", err)
	}
	rows.Close()
	return rows.Err()
}

// GetChallenge retrieves a challenge by ID
func (r *Repository) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`
	challenge, err := scanChallenge(r.q.QueryRow(ctx, query, challengeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("getting challenge: %w", err)
	}
	return challenge, nil
}

// CreateChallenge inserts a new challenge
func (r *Repository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	challengerScore, challengeeScore := scoreColumns(c.Score)
	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.ChallengerID,
		c.ChallengeeID,
		string(c.Status),
		challengerScore,
		challengeeScore,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating challenge: %w", err)
	}
	return nil
}

// UpdateChallenge writes status and score only while the stored status is still from
func (r *Repository) UpdateChallenge(ctx context.Context, c *domain.Challenge, from domain.ChallengeStatus) error {
	query := `
		UPDATE challenges
		SET status = $2, challenger_score = $3, challengee_score = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`
	challengerScore, challengeeScore := scoreColumns(c.Score)
	result, err := r.q.Exec(ctx, query, c.ID, string(c.Status), challengerScore, challengeeScore, c.UpdatedAt, string(from))
	if err != nil {
		return fmt.Errorf("updating challenge: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetChallenge(ctx, c.ID); err != nil {
			return err
		}
		return domain.ErrChallengeNotPending
	}
	return nil
}

// PendingChallenges retrieves a player's pending challenges in either direction
func (r *Repository) PendingChallenges(ctx context.Context, playerID string) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE status = 'pending' AND (challenger_id = $1 OR challengee_id = $1)` + challengeOrderByCreation
	return r.queryChallenges(ctx, query, playerID)
}

// ChallengesBetween retrieves every challenge between two players in either direction
func (r *Repository) ChallengesBetween(ctx context.Context, playerA, playerB string) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE (challenger_id = $1 AND challengee_id = $2) OR (challenger_id = $2 AND challengee_id = $1)` + challengeOrderByCreation
	return r.queryChallenges(ctx, query, playerA, playerB)
}

// PlayerChallenges retrieves every challenge a player took part in
func (r *Repository) PlayerChallenges(ctx context.Context, playerID string) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE challenger_id = $1 OR challengee_id = $1` + challengeOrderByCreation
	return r.queryChallenges(ctx, query, playerID)
}

func (r *Repository) queryChallenges(ctx context.Context, query string, args ...any) ([]domain.Challenge, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying challenges: %w", err)
	}
	defer rows.Close()

	var challenges []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning challenge: %w", err)
		}
		challenges = append(challenges, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying challenges: %w", err)
	}
	return challenges, nil
}

// RecordExchange appends an exchange to the journal
func (r *Repository) RecordExchange(ctx context.Context, ex domain.RankExchange) error {
	query := `
		INSERT INTO rank_exchanges (id, challenge_id, player_a_id, player_b_id, rank_a, rank_b, exchanged_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query, ex.ID, ex.ChallengeID, ex.PlayerAID, ex.PlayerBID, ex.RankA, ex.RankB, ex.ExchangedAt)
	if err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.Rank, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var (
		c               domain.Challenge
		status          string
		challengerScore *int
		challengeeScore *int
	)
	err := row.Scan(
		&c.ID,
		&c.ChallengerID,
		&c.ChallengeeID,
		&status,
		&challengerScore,
		&challengeeScore,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ChallengeStatus(status)
	if challengerScore != nil && challengeeScore != nil {
		c.Score = &domain.Score{Challenger: *challengerScore, Challengee: *challengeeScore}
	}
	return &c, nil
}

func scoreColumns(score *domain.Score) (challenger, challengee *int) {
	if score == nil {
		return nil, nil
	}
	return &score.Challenger, &score.Challengee
}

// uniqueViolationOn reports the constraint behind a unique violation.
func uniqueViolationOn(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
