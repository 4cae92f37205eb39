package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"custodian-hq/custodian/pkg/rules"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite for persistence.
//
// The store opens the database in WAL mode and keeps a single write
// connection, which is all SQLite supports anyway. Statements used on
// every scheduler tick are prepared once at startup.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	closeOnce sync.Once

	createStmt  *sql.Stmt
	getStmt     *sql.Stmt
	byNameStmt  *sql.Stmt
	updateStmt  *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	triggerStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite rule store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a rule store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{
		DBPath:      dbPath,
		BusyTimeout: 5 * time.Second,
	})
}

// NewSQLiteStoreWithConfig creates a rule store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Operation: "open", Cause: err}
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, &StorageError{Operation: "init schema", Cause: err}
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, &StorageError{Operation: "prepare statements", Cause: err}
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		media_type TEXT NOT NULL,
		criteria TEXT NOT NULL,
		action_type TEXT NOT NULL,
		action_delay_days INTEGER NOT NULL DEFAULT 0,
		target_service_id TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_triggered_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
	CREATE INDEX IF NOT EXISTS idx_rules_media_type ON rules(media_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

const ruleColumns = `id, name, description, enabled, media_type, criteria,
	action_type, action_delay_days, target_service_id, schedule,
	created_at, updated_at, last_triggered_at`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.createStmt, err = s.db.Prepare(`
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT ` + ruleColumns + ` FROM rules WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.byNameStmt, err = s.db.Prepare(`
		SELECT ` + ruleColumns + ` FROM rules WHERE name = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get-by-name statement: %w", err)
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE rules SET
			name = ?, description = ?, enabled = ?, media_type = ?,
			criteria = ?, action_type = ?, action_delay_days = ?,
			target_service_id = ?, schedule = ?, updated_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM rules WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT ` + ruleColumns + ` FROM rules ORDER BY name
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.triggerStmt, err = s.db.Prepare(`
		UPDATE rules SET last_triggered_at = ? WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trigger statement: %w", err)
	}

	return nil
}

// Create persists a new rule.
func (s *SQLiteStore) Create(ctx context.Context, rule *rules.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule id cannot be empty")
	}

	criteriaJSON, err := json.Marshal(rule.Criteria)
	if err != nil {
		return &StorageError{Operation: "create", Cause: fmt.Errorf("failed to marshal criteria: %w", err)}
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.createStmt.ExecContext(ctx,
		rule.ID,
		rule.Name,
		rule.Description,
		boolToInt(rule.Enabled),
		string(rule.MediaType),
		string(criteriaJSON),
		string(rule.ActionType),
		rule.ActionDelayDays,
		rule.TargetServiceID,
		rule.Schedule,
		now.Unix(),
		now.Unix(),
		nil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Name: rule.Name}
		}
		return &StorageError{Operation: "create", Cause: err}
	}

	return nil
}

// Get returns the rule with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, err := scanRule(s.getStmt.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Key: id}
	}
	if err != nil {
		return nil, &StorageError{Operation: "get", Cause: err}
	}
	return rule, nil
}

// GetByName returns the rule with the given name.
func (s *SQLiteStore) GetByName(ctx context.Context, name string) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, err := scanRule(s.byNameStmt.QueryRowContext(ctx, name))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Key: name}
	}
	if err != nil {
		return nil, &StorageError{Operation: "get by name", Cause: err}
	}
	return rule, nil
}

// Update replaces the stored rule.
func (s *SQLiteStore) Update(ctx context.Context, rule *rules.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	criteriaJSON, err := json.Marshal(rule.Criteria)
	if err != nil {
		return &StorageError{Operation: "update", Cause: fmt.Errorf("failed to marshal criteria: %w", err)}
	}

	rule.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.updateStmt.ExecContext(ctx,
		rule.Name,
		rule.Description,
		boolToInt(rule.Enabled),
		string(rule.MediaType),
		string(criteriaJSON),
		string(rule.ActionType),
		rule.ActionDelayDays,
		rule.TargetServiceID,
		rule.Schedule,
		rule.UpdatedAt.Unix(),
		rule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{Name: rule.Name}
		}
		return &StorageError{Operation: "update", Cause: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Operation: "update", Cause: err}
	}
	if affected == 0 {
		return &NotFoundError{Key: rule.ID}
	}

	return nil
}

// Delete removes the rule with the given ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.deleteStmt.ExecContext(ctx, id)
	if err != nil {
		return &StorageError{Operation: "delete", Cause: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Operation: "delete", Cause: err}
	}
	if affected == 0 {
		return &NotFoundError{Key: id}
	}

	return nil
}

// List returns all rules ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, &StorageError{Operation: "list", Cause: err}
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, &StorageError{Operation: "list", Cause: err}
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Operation: "list", Cause: err}
	}

	return out, nil
}

// ListDue returns the enabled, scheduled rules due at or before now.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]*rules.Rule, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var due []*rules.Rule
	for _, rule := range all {
		if ruleDue(rule, now) {
			due = append(due, rule)
		}
	}
	return due, nil
}

// MarkTriggered records the scheduler's claim of a tick for the rule.
func (s *SQLiteStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.triggerStmt.ExecContext(ctx, at.Unix(), id)
	if err != nil {
		return &StorageError{Operation: "mark triggered", Cause: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Operation: "mark triggered", Cause: err}
	}
	if affected == 0 {
		return &NotFoundError{Key: id}
	}

	return nil
}

// Close releases database resources. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			s.createStmt, s.getStmt, s.byNameStmt, s.updateStmt,
			s.deleteStmt, s.listStmt, s.triggerStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*rules.Rule, error) {
	var (
		rule          rules.Rule
		enabled       int
		mediaType     string
		criteriaJSON  string
		actionType    string
		createdAt     int64
		updatedAt     int64
		lastTriggered sql.NullInt64
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&enabled,
		&mediaType,
		&criteriaJSON,
		&actionType,
		&rule.ActionDelayDays,
		&rule.TargetServiceID,
		&rule.Schedule,
		&createdAt,
		&updatedAt,
		&lastTriggered,
	)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled != 0
	rule.MediaType = rules.MediaType(mediaType)
	rule.ActionType = rules.ActionType(actionType)
	rule.CreatedAt = time.Unix(createdAt, 0).UTC()
	rule.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastTriggered.Valid {
		t := time.Unix(lastTriggered.Int64, 0).UTC()
		rule.LastTriggeredAt = &t
	}

	if err := json.Unmarshal([]byte(criteriaJSON), &rule.Criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
	}

	return &rule, nil
}

// ruleDue reports whether a scheduled rule's next activation after its
// last trigger (or creation, for rules never triggered) has arrived.
// Rules with unparsable schedules are skipped; the validator rejects
// those at save time.
func ruleDue(rule *rules.Rule, now time.Time) bool {
	if !rule.Enabled || !rule.Scheduled() {
		return false
	}

	sched, err := cron.ParseStandard(rule.Schedule)
	if err != nil {
		return false
	}

	base := rule.CreatedAt
	if rule.LastTriggeredAt != nil {
		base = *rule.LastTriggeredAt
	}

	return !sched.Next(base).After(now)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
