package directory

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

const (
	lookupQuery = `SELECT id, display_name, COALESCE(avatar_url, '') FROM participants WHERE id = ANY($1)`
	existsQuery = `SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1)`
)

// Connect creates a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// normalizeDSN accepts the driver suffixes found in other ecosystems' .env files.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, suffix := range []string{"+asyncpg", "+pgx"} {
		s = strings.Replace(s, "postgresql"+suffix+"://", "postgresql://", 1)
		s = strings.Replace(s, "postgres"+suffix+"://", "postgres://", 1)
	}
	return s
}

// PostgresDirectory reads the participants table owned by the account service.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

var _ contract.ParticipantDirectory = (*PostgresDirectory)(nil)

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, ids []chat.ParticipantID) (map[chat.ParticipantID]chat.Participant, error) {
	out := make(map[chat.ParticipantID]chat.Participant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.pool.Query(ctx, lookupQuery, lo.Map(ids, func(id chat.ParticipantID, _ int) string { return string(id) }))
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name, avatar string
		if err := rows.Scan(&id, &name, &avatar); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		out[chat.ParticipantID(id)] = chat.Participant{ID: chat.ParticipantID(id), DisplayName: name, AvatarURL: avatar}
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) Exists(ctx context.Context, id chat.ParticipantID) (bool, error) {
	var exists bool
	if err := d.pool.QueryRow(ctx, existsQuery, string(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: participant exists: %w", err)
	}
	return exists, nil
}
