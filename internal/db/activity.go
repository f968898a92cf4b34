package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/prism/internal/intake"
)

// AppendActivity records an audit entry. The log is append-only and
// never pruned by this layer.
func (db *DB) AppendActivity(ctx context.Context, e *intake.ActivityEntry) error {
	var oldJSON, newJSON []byte
	var err error
	if e.OldValues != nil {
		if oldJSON, err = json.Marshal(e.OldValues); err != nil {
			return fmt.Errorf("failed to marshal old values: %w", err)
		}
	}
	if e.NewValues != nil {
		if newJSON, err = json.Marshal(e.NewValues); err != nil {
			return fmt.Errorf("failed to marshal new values: %w", err)
		}
	}

	var performedBy *string
	if e.PerformedBy != "" {
		performedBy = &e.PerformedBy
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO activity_log (entity_type, entity_id, action, performed_by, old_values, new_values)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, performed_at`,
		e.EntityType, e.EntityID, e.Action, performedBy, oldJSON, newJSON,
	).Scan(&e.ID, &e.PerformedAt)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// ListActivity retrieves audit entries for an entity, newest first.
func (db *DB) ListActivity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]intake.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, entity_type, entity_id, action, COALESCE(performed_by, ''), performed_at, old_values, new_values
		 FROM activity_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY performed_at DESC LIMIT $3`,
		entityType, entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []intake.ActivityEntry
	for rows.Next() {
		var e intake.ActivityEntry
		var oldJSON, newJSON []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.PerformedBy,
			&e.PerformedAt, &oldJSON, &newJSON); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if len(oldJSON) > 0 {
			_ = json.Unmarshal(oldJSON, &e.OldValues)
		}
		if len(newJSON) > 0 {
			_ = json.Unmarshal(newJSON, &e.NewValues)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
