package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Oracle answers whether the PBX has marked a conversation finished.
type Oracle interface {
	IsFinished(ctx context.Context, displayName string) (bool, error)
}

// PostgresConfig holds connection pool settings for the status database.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		QueryTimeout:    5 * time.Second,
	}
}

const finishedQuery = `
	SELECT m.fkid_conversation, r.is_finished
	FROM chat_conversation_member m
	JOIN chat_results r ON m.fkid_conversation = r.fkid_conversation
	WHERE m.participant_no = $1
	ORDER BY m.fkid_conversation DESC
	LIMIT 1
`

// PostgresOracle reads conversation results from the PBX reporting database.
type PostgresOracle struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewPostgresOracle opens the status database and verifies it is reachable.
func NewPostgresOracle(dsn string, config *PostgresConfig) (*PostgresOracle, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresOracle{db: db, queryTimeout: config.QueryTimeout}, nil
}

// Close releases database resources.
func (o *PostgresOracle) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

// IsFinished reports whether the most recent conversation for displayName is
// finished. No matching record, or a NULL result, means not finished.
func (o *PostgresOracle) IsFinished(ctx context.Context, displayName string) (bool, error) {
	if o.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.queryTimeout)
		defer cancel()
	}

	var (
		conversationID int64
		finished       sql.NullBool
	)
	err := o.db.QueryRowContext(ctx, finishedQuery, displayName).Scan(&conversationID, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query chat status: %w", err)
	}
	return finished.Valid && finished.Bool, nil
}
