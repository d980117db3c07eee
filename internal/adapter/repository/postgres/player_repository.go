package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var (
	_ domain.PlayerRepository    = (*PlayerRepository)(nil)
	_ domain.PlayerBatchUpserter = (*PlayerRepository)(nil)
)

// PlayerRepository is the Postgres-backed live player table.
type PlayerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPlayerRepository(db *sql.DB, logger *slog.Logger) *PlayerRepository {
	return &PlayerRepository{db: db, logger: logger.With("component", "postgres_player_repository")}
}

const playerColumns = `id, place_id, server_id, player_id, username, display_name, account_age, ping,
	is_banned, is_suspicious, is_alt, first_seen, last_seen`

// mergeTelemetry overwrites telemetry only; flags and first_seen are kept.
const mergeTelemetry = `
	ON CONFLICT (place_id, player_id) DO UPDATE SET
		server_id    = EXCLUDED.server_id,
		username     = EXCLUDED.username,
		display_name = EXCLUDED.display_name,
		account_age  = EXCLUDED.account_age,
		ping         = EXCLUDED.ping,
		last_seen    = GREATEST(player_snapshots.last_seen, EXCLUDED.last_seen)`

func scanPlayer(row interface{ Scan(...any) error }) (domain.PlayerSnapshot, error) {
	var p domain.PlayerSnapshot
	err := row.Scan(&p.ID, &p.PlaceID, &p.ServerID, &p.PlayerID, &p.Username, &p.DisplayName, &p.AccountAge, &p.Ping,
		&p.IsBanned, &p.IsSuspicious, &p.IsAlt, &p.FirstSeen, &p.LastSeen)
	return p, err
}

func (r *PlayerRepository) Upsert(ctx context.Context, placeID, serverID string, fact domain.PlayerFact, seenAt time.Time) (*domain.PlayerSnapshot, error) {
	if fact.PlayerID == "" {
		return nil, domain.NewValidationError("player_id", "")
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO player_snapshots (id, place_id, server_id, player_id, username, display_name, account_age, ping, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`+mergeTelemetry+`
		RETURNING `+playerColumns,
		uuid.NewString(), placeID, serverID, fact.PlayerID, fact.Username, fact.DisplayName, fact.AccountAge, fact.Ping, seenAt)

	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert player %s: %w", fact.PlayerID, err)
	}
	return &p, nil
}

// UpsertBatch merges a whole heartbeat in one transaction: the facts are
// streamed into a temp table with COPY and merged with a single statement.
// Later facts for the same player win. It returns the number of facts
// accepted, counting repeats of a player.
func (r *PlayerRepository) UpsertBatch(ctx context.Context, placeID, serverID string, facts []domain.PlayerFact, seenAt time.Time) (int, error) {
	latest := make(map[string]domain.PlayerFact, len(facts))
	order := make([]string, 0, len(facts))
	accepted := 0
	for _, f := range facts {
		if f.PlayerID == "" {
			continue
		}
		accepted++
		if _, seen := latest[f.PlayerID]; !seen {
			order = append(order, f.PlayerID)
		}
		latest[f.PlayerID] = f
	}
	if len(order) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin player batch: %w", err)
	}
	defer txn.Rollback() // no-op after Commit

	const staging = "player_snapshots_staging"
	if _, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+staging+` (LIKE player_snapshots INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(staging,
		"id", "place_id", "server_id", "player_id", "username", "display_name", "account_age", "ping", "first_seen", "last_seen"))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, id := range order {
		f := latest[id]
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), placeID, serverID, f.PlayerID, f.Username, f.DisplayName, f.AccountAge, f.Ping, seenAt, seenAt); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("failed to copy player %s: %w", f.PlayerID, err)
		}
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush copy: %w", err)
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO player_snapshots (id, place_id, server_id, player_id, username, display_name, account_age, ping, first_seen, last_seen)
		SELECT id, place_id, server_id, player_id, username, display_name, account_age, ping, first_seen, last_seen
		FROM `+staging+mergeTelemetry)
	if err != nil {
		return 0, fmt.Errorf("failed to merge player batch: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit player batch: %w", err)
	}
	return accepted, nil
}

func (r *PlayerRepository) List(ctx context.Context, placeID string, filter domain.PlayerFilter) ([]domain.PlayerSnapshot, error) {
	query := `SELECT ` + playerColumns + ` FROM player_snapshots
		WHERE place_id = $1
		  AND ($2::text = '' OR server_id = $2::text)
		  AND ($3::text = '' OR username ILIKE '%' || $3::text || '%' OR display_name ILIKE '%' || $3::text || '%' OR player_id ILIKE '%' || $3::text || '%')`
	if filter.Flag != "" {
		flag, err := domain.ParsePlayerFlag(string(filter.Flag))
		if err != nil {
			return nil, err
		}
		query += ` AND ` + flag.Column()
	}
	query += ` ORDER BY last_seen DESC, player_id LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, placeID, filter.ServerID, escapeLike(filter.Search), filter.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var out []domain.PlayerSnapshot
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PlayerRepository) SetFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) error {
	if _, err := domain.ParsePlayerFlag(string(flag)); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE player_snapshots SET `+flag.Column()+` = $3 WHERE place_id = $1 AND player_id = $2`,
		placeID, playerID, value)
	if err != nil {
		return fmt.Errorf("failed to set %s on player %s: %w", flag, playerID, err)
	}
	return requireOneRow(res, domain.ErrPlayerNotFound)
}

func (r *PlayerRepository) Count(ctx context.Context, placeID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_snapshots WHERE place_id = $1`, placeID).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
