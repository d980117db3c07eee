package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var _ domain.CommandRepository = (*CommandRepository)(nil)

// CommandRepository is the Postgres-backed command queue.
type CommandRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCommandRepository(db *sql.DB, logger *slog.Logger) *CommandRepository {
	return &CommandRepository{db: db, logger: logger.With("component", "postgres_command_repository")}
}

const commandColumns = `seq, id, place_id, server_id, command_type, target_username, target_player_id,
	payload, status, created_by, created_at, sent_at, executed_at, result_message, expires_at`

func scanCommand(row interface{ Scan(...any) error }) (domain.Command, error) {
	var (
		c       domain.Command
		payload []byte
	)
	err := row.Scan(&c.Seq, &c.ID, &c.PlaceID, &c.ServerID, &c.Type, &c.TargetUsername, &c.TargetPlayerID,
		&payload, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.SentAt, &c.ExecutedAt, &c.ResultMessage, &c.ExpiresAt)
	if err != nil {
		return c, err
	}
	c.Payload = domain.Payload{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c.Payload); err != nil {
			return c, fmt.Errorf("failed to decode payload of command %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r *CommandRepository) Enqueue(ctx context.Context, cmd *domain.Command) error {
	payload := cmd.Payload
	if payload == nil {
		payload = domain.Payload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode command payload: %w", err)
	}

	cmd.Status = domain.StatusPending
	cmd.SentAt, cmd.ExecutedAt, cmd.ResultMessage = nil, nil, nil

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO command_queue (id, place_id, server_id, command_type, target_username, target_player_id,
			payload, status, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8, $9, $10)
		RETURNING seq`,
		cmd.ID, cmd.PlaceID, cmd.ServerID, string(cmd.Type), cmd.TargetUsername, cmd.TargetPlayerID,
		body, cmd.CreatedBy, cmd.CreatedAt, cmd.ExpiresAt,
	).Scan(&cmd.Seq)
	if err != nil {
		return fmt.Errorf("failed to enqueue command: %w", err)
	}
	return nil
}

// Claim selects and flips the batch in one statement. SKIP LOCKED lets
// concurrent pollers of the same tenant take disjoint batches without waiting.
func (r *CommandRepository) Claim(ctx context.Context, placeID, serverID string, limit int, now time.Time) ([]domain.Command, error) {
	if limit <= 0 {
		limit = domain.DefaultClaimBatchSize
	}

	rows, err := r.db.QueryContext(ctx, `
		WITH claimable AS (
			SELECT id FROM command_queue
			WHERE place_id = $1
			  AND status = 'PENDING'
			  AND ($2::text = '' OR server_id IS NULL OR server_id = $2::text)
			  AND (expires_at IS NULL OR expires_at > $3::timestamptz)
			ORDER BY created_at, seq
			LIMIT $4::int
			FOR UPDATE SKIP LOCKED
		)
		UPDATE command_queue c
		SET status = 'SENT', sent_at = $3::timestamptz
		FROM claimable
		WHERE c.id = claimable.id AND c.status = 'PENDING'
		RETURNING c.seq, c.id, c.place_id, c.server_id, c.command_type, c.target_username, c.target_player_id,
			c.payload, c.status, c.created_by, c.created_at, c.sent_at, c.executed_at, c.result_message, c.expires_at`,
		placeID, serverID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim commands: %w", err)
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed command: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed commands: %w", err)
	}

	// RETURNING does not preserve the CTE's order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(&out[j]) })
	return out, nil
}

func (r *CommandRepository) Ack(ctx context.Context, placeID, commandID string, outcome domain.CommandStatus, message *string, now time.Time) (bool, error) {
	if _, err := uuid.Parse(commandID); err != nil {
		return false, domain.ErrCommandNotFound
	}

	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE command_queue
		SET status = $3, executed_at = $4, result_message = COALESCE($5, result_message)
		WHERE id = $1 AND place_id = $2 AND status IN ('PENDING', 'SENT')
		RETURNING id`,
		commandID, placeID, string(outcome), now, message,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to ack command %s: %w", commandID, err)
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM command_queue WHERE id = $1 AND place_id = $2)`, commandID, placeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check command %s: %w", commandID, err)
	}
	if !exists {
		return false, domain.ErrCommandNotFound
	}
	return false, nil
}

func (r *CommandRepository) Expire(ctx context.Context, createdBefore, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE command_queue
		SET status = 'EXPIRED'
		WHERE status IN ('PENDING', 'SENT')
		  AND (created_at < $1 OR (expires_at IS NOT NULL AND expires_at <= $2))`,
		createdBefore, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire commands: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read expired count: %w", err)
	}
	return n, nil
}

func (r *CommandRepository) History(ctx context.Context, placeID string, filter domain.CommandFilter) ([]domain.Command, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+commandColumns+`
		FROM command_queue
		WHERE place_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`,
		placeID, string(filter.Status), filter.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to query command history: %w", err)
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CommandRepository) Counts(ctx context.Context, placeID string) (int64, int64, error) {
	var total, pending int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'PENDING')
		FROM command_queue WHERE place_id = $1`, placeID,
	).Scan(&total, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count commands: %w", err)
	}
	return total, pending, nil
}
