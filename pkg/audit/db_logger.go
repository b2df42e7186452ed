package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DBLogger persists audit entries to PostgreSQL. Unlike RingStore it is not
// hard-capped on the write path; the retention sweep trims overflow beyond
// MaxEntries (oldest first) and entries past the retention window.
type DBLogger struct {
	db      *sql.DB
	sweeper *cron.Cron
}

// RetentionPolicy controls the periodic sweep.
type RetentionPolicy struct {
	// RetentionDays removes entries older than this many days. Zero keeps
	// entries until the cap trims them.
	RetentionDays int

	// MaxEntries trims the table to this many newest rows. Zero selects the
	// package default.
	MaxEntries int
}

// NewDBLogger creates a database-backed logger and ensures its table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &DBLogger{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("ensure audit_entries table: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(36) NOT NULL,
		actor_user_id VARCHAR(36) NOT NULL,
		entity_type VARCHAR(50) NOT NULL,
		entity_id VARCHAR(255),
		action VARCHAR(50) NOT NULL,
		before_state JSONB,
		after_state JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entries_tenant_time ON audit_entries(tenant_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_entity ON audit_entries(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_user_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Append records one entry.
func (l *DBLogger) Append(ctx context.Context, entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_entries (id, tenant_id, actor_user_id, entity_type, entity_id, action, before_state, after_state, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var before, after interface{}
	if len(entry.Before) > 0 {
		before = []byte(entry.Before)
	}
	if len(entry.After) > 0 {
		after = []byte(entry.After)
	}

	_, err := l.db.ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.ActorUserID,
		string(entry.EntityType), entry.EntityID, string(entry.Action),
		before, after, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns the tenant's entries, newest first.
func (l *DBLogger) Query(ctx context.Context, tenantID string, filter Filter, page Page) ([]*Entry, error) {
	query := `
		SELECT id, tenant_id, actor_user_id, entity_type, entity_id, action, before_state, after_state, timestamp
		FROM audit_entries
		WHERE tenant_id = $1
	`

	args := []interface{}{tenantID}
	argCount := 2

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, string(filter.EntityType))
		argCount++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, string(filter.Action))
		argCount++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}
	if filter.ActorUserID != "" {
		query += fmt.Sprintf(" AND actor_user_id = $%d", argCount)
		args = append(args, filter.ActorUserID)
		argCount++
	}
	if filter.Start != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.Start)
		argCount++
	}
	if filter.End != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.End)
		argCount++
	}

	query += " ORDER BY timestamp DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, page.limit(), page.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var entityType, action string
		var entityID sql.NullString
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorUserID, &entityType, &entityID,
			&action, &before, &after, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EntityType = EntityType(entityType)
		e.Action = Action(action)
		e.EntityID = entityID.String
		e.Before = before
		e.After = after
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Sweep applies the retention policy once: entries older than the window go
// first, then overflow beyond the cap, oldest first.
func (l *DBLogger) Sweep(ctx context.Context, policy RetentionPolicy) (int64, error) {
	var removed int64

	if policy.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
		result, err := l.db.ExecContext(ctx,
			`DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
		if err != nil {
			return removed, fmt.Errorf("retention delete: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			removed += n
		}
	}

	limit := policy.MaxEntries
	if limit <= 0 {
		limit = MaxEntries
	}
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM audit_entries
		WHERE id IN (
			SELECT id FROM audit_entries
			ORDER BY timestamp DESC
			OFFSET $1
		)`, limit)
	if err != nil {
		return removed, fmt.Errorf("cap trim: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		removed += n
	}
	return removed, nil
}

// StartSweeper runs Sweep on the given cron schedule (e.g. "@every 1m")
// until StopSweeper is called. onError receives sweep failures.
func (l *DBLogger) StartSweeper(schedule string, policy RetentionPolicy, onError func(error)) error {
	if l.sweeper != nil {
		return fmt.Errorf("sweeper already running")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := l.Sweep(context.Background(), policy); err != nil && onError != nil {
			onError(err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule audit sweep: %w", err)
	}

	c.Start()
	l.sweeper = c
	return nil
}

// StopSweeper stops the retention schedule, waiting for a running sweep.
func (l *DBLogger) StopSweeper() {
	if l.sweeper == nil {
		return
	}
	<-l.sweeper.Stop().Done()
	l.sweeper = nil
}
