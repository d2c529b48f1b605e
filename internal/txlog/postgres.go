package txlog

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/errors"
)

const pgUniqueViolation = "23505"

// schemaDDL creates the log tables. Every transaction is one row keyed by
// (table_id, version), so a second writer for the same version violates the primary key.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS otree_tables (
	table_id   TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS otree_transactions (
	table_id     TEXT        NOT NULL REFERENCES otree_tables (table_id),
	version      BIGINT      NOT NULL,
	tx_id        TEXT        NOT NULL,
	revision_id  BIGINT      NOT NULL,
	payload      BYTEA       NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (table_id, version)
);
`

// PostgresLogConfig holds postgres log configuration
type PostgresLogConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// PostgresLog stores transactions in PostgreSQL, shared by every writer of a table
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog connects to PostgreSQL and ensures the schema exists
func NewPostgresLog(ctx context.Context, cfg *PostgresLogConfig, logger *zap.Logger) (*PostgresLog, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := &PostgresLog{pool: pool, logger: logger}
	if err := l.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// EnsureSchema creates the log tables when missing
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create log schema: %w", err)
	}
	return nil
}

func (l *PostgresLog) Exists(ctx context.Context, tableID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM otree_tables WHERE table_id = $1)`,
		tableID,
	).Scan(&exists)
	if err != nil {
		return false, errors.LogFailed("check table log", err)
	}
	return exists, nil
}

func (l *PostgresLog) Create(ctx context.Context, tableID string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO otree_tables (table_id) VALUES ($1) ON CONFLICT (table_id) DO NOTHING`,
		tableID,
	)
	if err != nil {
		return errors.LogFailed("create table log", err)
	}
	return nil
}

func (l *PostgresLog) LatestVersion(ctx context.Context, tableID string) (int64, error) {
	var version int64
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(x.version), 0)
		FROM otree_tables t
		LEFT JOIN otree_transactions x ON x.table_id = t.table_id
		WHERE t.table_id = $1
		GROUP BY t.table_id
	`, tableID).Scan(&version)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, errors.TableNotFound(tableID)
	}
	if err != nil {
		return 0, errors.LogFailed("read latest version", err)
	}
	return version, nil
}

func (l *PostgresLog) Append(ctx context.Context, tableID string, expectedVersion int64, tx *Transaction) (CommitResult, error) {
	latest, err := l.LatestVersion(ctx, tableID)
	if err != nil {
		return CommitResult{}, err
	}
	if latest != expectedVersion {
		return CommitResult{}, errors.ConcurrentCommit(tableID, expectedVersion, latest)
	}

	stored := *tx
	stored.TableID = tableID
	stored.Version = expectedVersion + 1

	_, err = l.pool.Exec(ctx, `
		INSERT INTO otree_transactions (table_id, version, tx_id, revision_id, payload, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tableID, stored.Version, stored.ID, stored.RevisionID, Marshal(&stored), stored.CommittedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			current, _ := l.LatestVersion(ctx, tableID)
			return CommitResult{}, errors.ConcurrentCommit(tableID, expectedVersion, current)
		}
		return CommitResult{}, errors.LogFailed("append transaction", err)
	}
	return resultOf(&stored), nil
}

func (l *PostgresLog) Read(ctx context.Context, tableID string, upto int64) ([]*Transaction, error) {
	exists, err := l.Exists(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.TableNotFound(tableID)
	}

	query := `SELECT version, payload FROM otree_transactions WHERE table_id = $1`
	args := []interface{}{tableID}
	if upto >= 0 {
		query += ` AND version <= $2`
		args = append(args, upto)
	}
	query += ` ORDER BY version`

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.LogFailed("read table log", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var version int64
		var payload []byte
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, errors.LogFailed("scan transaction", err)
		}
		tx, err := Unmarshal(payload)
		if err != nil {
			return nil, errors.CorruptedData(fmt.Sprintf("table %s version %d", tableID, version), err)
		}
		if tx.Version != version {
			return nil, errors.CorruptedData(fmt.Sprintf("table %s row %d holds version %d", tableID, version, tx.Version), nil)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.LogFailed("read table log", err)
	}
	return out, nil
}

func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}
