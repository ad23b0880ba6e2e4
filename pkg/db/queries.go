// Package db persists engine state to SQLite so a restart resumes with
// the same agents, conditional actions, and queued actions.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agent-core/internal/agent"
	"agent-core/internal/condition"
	"agent-core/internal/execution"
	"agent-core/internal/queue"
	"agent-core/pkg/crypto"
)

// Queries implements the persistence interfaces the in-memory components
// write through: condition.Store, queue.Store, agent.Store, and
// execution.Recorder.
type Queries struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// NewQueries creates a Queries instance over an open database. A non-nil
// sealer encrypts agent signer keys at rest.
func NewQueries(d *Database, sealer *crypto.Sealer) *Queries {
	return &Queries{db: d.DB, sealer: sealer}
}

// ----------------------------------------
// Conditional actions
// ----------------------------------------

// SaveConditionalAction upserts a conditional action row.
func (q *Queries) SaveConditionalAction(ctx context.Context, a condition.Action) error {
	cond, err := jsonText(a.Condition)
	if err != nil {
		return err
	}
	params, err := jsonText(a.Params)
	if err != nil {
		return err
	}
	result, err := jsonText(a.Result)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO conditional_actions (
			id, owner_id, kind, condition, params, status, rationale,
			error_message, result, created_at, triggered_at, executed_at, expires_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			result = excluded.result,
			triggered_at = excluded.triggered_at,
			executed_at = excluded.executed_at,
			expires_at = excluded.expires_at
	`, a.ID, a.OwnerID, string(a.Kind), cond, params, string(a.Status), a.Rationale,
		a.ErrorMessage, result, a.CreatedAt, nullTime(a.TriggeredAt), nullTime(a.ExecutedAt), nullTime(a.ExpiresAt))
	if err != nil {
		return fmt.Errorf("save conditional action %s: %w", a.ID, err)
	}
	return nil
}

// DeleteConditionalAction removes a conditional action row.
func (q *Queries) DeleteConditionalAction(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM conditional_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conditional action %s: %w", id, err)
	}
	return nil
}

// ListConditionalActions returns every stored conditional action.
func (q *Queries) ListConditionalActions(ctx context.Context) ([]condition.Action, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner_id, kind, condition, COALESCE(params, ''), status,
		       COALESCE(rationale, ''), COALESCE(error_message, ''), COALESCE(result, ''),
		       created_at, triggered_at, executed_at, expires_at
		FROM conditional_actions
	`)
	if err != nil {
		return nil, fmt.Errorf("query conditional actions: %w", err)
	}
	defer rows.Close()

	var actions []condition.Action
	for rows.Next() {
		var (
			a                    condition.Action
			kind, status         string
			cond, params, result sql.NullString
			triggered, executed  sql.NullTime
			expires              sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &kind, &cond, &params, &status,
			&a.Rationale, &a.ErrorMessage, &result,
			&a.CreatedAt, &triggered, &executed, &expires); err != nil {
			return nil, fmt.Errorf("scan conditional action: %w", err)
		}
		a.Kind = condition.Kind(kind)
		a.Status = condition.Status(status)
		if err := fromJSONText(cond, &a.Condition); err != nil {
			return nil, err
		}
		if err := fromJSONText(params, &a.Params); err != nil {
			return nil, err
		}
		if err := fromJSONText(result, &a.Result); err != nil {
			return nil, err
		}
		a.TriggeredAt = timePtr(triggered)
		a.ExecutedAt = timePtr(executed)
		a.ExpiresAt = timePtr(expires)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ----------------------------------------
// Queued actions
// ----------------------------------------

// SaveQueuedAction upserts a queued action row.
func (q *Queries) SaveQueuedAction(ctx context.Context, a queue.Action) error {
	meta, err := jsonText(a.Metadata)
	if err != nil {
		return err
	}

	var size, price any
	if a.Size != nil {
		size = *a.Size
	}
	if a.Price != nil {
		price = *a.Price
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queued_actions (
			id, owner_id, kind, priority, instrument, side, size, price,
			rationale, not_before, expires_at, created_at, attempts, last_error, metadata
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			not_before = excluded.not_before,
			attempts = excluded.attempts,
			last_error = excluded.last_error
	`, a.ID, a.OwnerID, string(a.Kind), int(a.Priority), a.Instrument, a.Side, size, price,
		a.Rationale, nullTime(a.NotBefore), nullTime(a.ExpiresAt), a.CreatedAt, a.Attempts, a.LastError, meta)
	if err != nil {
		return fmt.Errorf("save queued action %s: %w", a.ID, err)
	}
	return nil
}

// DeleteQueuedAction removes a queued action row.
func (q *Queries) DeleteQueuedAction(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queued action %s: %w", id, err)
	}
	return nil
}

// ListQueuedActions returns every stored queued action.
func (q *Queries) ListQueuedActions(ctx context.Context) ([]queue.Action, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner_id, kind, priority, instrument, side, size, price,
		       COALESCE(rationale, ''), not_before, expires_at, created_at,
		       COALESCE(attempts, 0), COALESCE(last_error, ''), COALESCE(metadata, '')
		FROM queued_actions
	`)
	if err != nil {
		return nil, fmt.Errorf("query queued actions: %w", err)
	}
	defer rows.Close()

	var actions []queue.Action
	for rows.Next() {
		var (
			a                  queue.Action
			kind               string
			priority           int
			size, price        sql.NullFloat64
			notBefore, expires sql.NullTime
			meta               sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &kind, &priority, &a.Instrument, &a.Side,
			&size, &price, &a.Rationale, &notBefore, &expires, &a.CreatedAt,
			&a.Attempts, &a.LastError, &meta); err != nil {
			return nil, fmt.Errorf("scan queued action: %w", err)
		}
		a.Kind = queue.Kind(kind)
		a.Priority = queue.Priority(priority)
		if size.Valid {
			v := size.Float64
			a.Size = &v
		}
		if price.Valid {
			v := price.Float64
			a.Price = &v
		}
		a.NotBefore = timePtr(notBefore)
		a.ExpiresAt = timePtr(expires)
		if err := fromJSONText(meta, &a.Metadata); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ----------------------------------------
// Agents
// ----------------------------------------

// UpsertAgent creates or updates an agent row.
func (q *Queries) UpsertAgent(ctx context.Context, a agent.Agent) error {
	instruments, err := jsonText(a.Instruments)
	if err != nil {
		return err
	}

	signerKey := a.Credentials.SignerKey
	if q.sealer != nil {
		signerKey, err = q.sealer.Seal(signerKey)
		if err != nil {
			return fmt.Errorf("seal signer key for %s: %w", a.ID, err)
		}
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, name, handle, style, instruments, max_position_usd,
			active, account_key, signer_key, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			handle = excluded.handle,
			style = excluded.style,
			instruments = excluded.instruments,
			max_position_usd = excluded.max_position_usd,
			active = excluded.active,
			account_key = excluded.account_key,
			signer_key = excluded.signer_key
	`, a.ID, a.Name, a.Handle, a.Style, instruments, a.MaxPositionUSD,
		a.Active, a.Credentials.AccountKey, signerKey, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", a.ID, err)
	}
	return nil
}

// ListAgents returns every stored agent.
func (q *Queries) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(handle, ''), COALESCE(style, ''),
		       COALESCE(instruments, ''), COALESCE(max_position_usd, 0), active,
		       COALESCE(account_key, ''), COALESCE(signer_key, ''), created_at
		FROM agents
	`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		var (
			a           agent.Agent
			instruments sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Handle, &a.Style, &instruments,
			&a.MaxPositionUSD, &a.Active,
			&a.Credentials.AccountKey, &a.Credentials.SignerKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		if err := fromJSONText(instruments, &a.Instruments); err != nil {
			return nil, err
		}
		if q.sealer != nil {
			opened, err := q.sealer.Open(a.Credentials.SignerKey)
			if err != nil {
				return nil, fmt.Errorf("open signer key for %s: %w", a.ID, err)
			}
			a.Credentials.SignerKey = opened
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ----------------------------------------
// Executions
// ----------------------------------------

// InsertExecution records one venue call outcome.
func (q *Queries) InsertExecution(ctx context.Context, rec execution.Record) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, owner_id, instrument, side, size, price, fee,
			kind, order_id, success, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.OwnerID, rec.Instrument, rec.Side, rec.Size, rec.Price, rec.Fee,
		rec.Kind, rec.OrderID, rec.Success, rec.Error, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteExecutionsBefore removes execution rows older than cutoff and
// returns the number removed.
func (q *Queries) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	return res.RowsAffected()
}

// ListExecutions returns the most recent executions, optionally scoped to
// an owner.
func (q *Queries) ListExecutions(ctx context.Context, ownerID string, limit int) ([]execution.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, COALESCE(owner_id, ''), instrument, side, size,
		       COALESCE(price, 0), COALESCE(fee, 0), COALESCE(kind, ''),
		       COALESCE(order_id, ''), success, COALESCE(error, ''), created_at
		FROM executions
	`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var recs []execution.Record
	for rows.Next() {
		var rec execution.Record
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Instrument, &rec.Side, &rec.Size,
			&rec.Price, &rec.Fee, &rec.Kind, &rec.OrderID, &rec.Success, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
