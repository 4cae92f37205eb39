// Package store persists pending actions and their execution results.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"custodian-hq/custodian/pkg/actions"
	"custodian-hq/custodian/pkg/rules"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements actions.Store on SQLite. Pending actions are
// upserted by ID; execution results are append-only.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	closeOnce sync.Once

	saveStmt     *sql.Stmt
	getStmt      *sql.Stmt
	findLiveStmt *sql.Stmt
	liveRuleStmt *sql.Stmt
	resultStmt   *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite action store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates an action store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{
		DBPath:      dbPath,
		BusyTimeout: 5 * time.Second,
	})
}

// NewSQLiteStoreWithConfig creates an action store with custom configuration.
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
		return nil, &actions.StorageError{Operation: "open", Cause: err}
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, &actions.StorageError{Operation: "init schema", Cause: err}
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, &actions.StorageError{Operation: "prepare statements", Cause: err}
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_actions (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		media_type TEXT NOT NULL,
		media_external_id TEXT NOT NULL,
		media_title TEXT NOT NULL DEFAULT '',
		service_id TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		state TEXT NOT NULL,
		cancel_reason TEXT NOT NULL DEFAULT '',
		first_matched_at INTEGER NOT NULL,
		eligible_at INTEGER NOT NULL,
		last_reevaluated_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		executed_at INTEGER,
		cancelled_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_rule ON pending_actions(rule_id);
	CREATE INDEX IF NOT EXISTS idx_actions_state ON pending_actions(state);
	CREATE INDEX IF NOT EXISTS idx_actions_pair ON pending_actions(rule_id, media_external_id);

	CREATE TABLE IF NOT EXISTS execution_results (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		media_external_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		executed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_action ON execution_results(action_id);
	CREATE INDEX IF NOT EXISTS idx_results_rule ON execution_results(rule_id);
	CREATE INDEX IF NOT EXISTS idx_results_time ON execution_results(executed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

const actionColumns = `id, rule_id, media_type, media_external_id, media_title,
	service_id, action_type, state, cancel_reason, first_matched_at,
	eligible_at, last_reevaluated_at, attempts, executed_at, cancelled_at,
	created_at, updated_at`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO pending_actions (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			cancel_reason = excluded.cancel_reason,
			last_reevaluated_at = excluded.last_reevaluated_at,
			attempts = excluded.attempts,
			executed_at = excluded.executed_at,
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT ` + actionColumns + ` FROM pending_actions WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.findLiveStmt, err = s.db.Prepare(`
		SELECT ` + actionColumns + ` FROM pending_actions
		WHERE rule_id = ? AND media_external_id = ? AND state IN ('scheduled', 'eligible')
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare find-live statement: %w", err)
	}

	s.liveRuleStmt, err = s.db.Prepare(`
		SELECT ` + actionColumns + ` FROM pending_actions
		WHERE rule_id = ? AND state IN ('scheduled', 'eligible')
		ORDER BY first_matched_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare live-by-rule statement: %w", err)
	}

	s.resultStmt, err = s.db.Prepare(`
		INSERT INTO execution_results
			(id, action_id, rule_id, media_external_id, action_type, attempt, success, error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result statement: %w", err)
	}

	return nil
}

// Save inserts or replaces a pending action by ID.
func (s *SQLiteStore) Save(ctx context.Context, action *actions.PendingAction) error {
	if action == nil {
		return fmt.Errorf("action cannot be nil")
	}
	if action.ID == "" {
		return fmt.Errorf("action id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.saveStmt.ExecContext(ctx,
		action.ID,
		action.RuleID,
		string(action.MediaType),
		action.MediaExternalID,
		action.MediaTitle,
		action.ServiceID,
		string(action.ActionType),
		string(action.State),
		string(action.CancelReason),
		action.FirstMatchedAt.Unix(),
		action.EligibleAt.Unix(),
		action.LastReevaluatedAt.Unix(),
		action.Attempts,
		nullUnix(action.ExecutedAt),
		nullUnix(action.CancelledAt),
		action.CreatedAt.Unix(),
		action.UpdatedAt.Unix(),
	)
	if err != nil {
		return &actions.StorageError{Operation: "save", Cause: err}
	}

	return nil
}

// Get returns the action with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, err := scanAction(s.getStmt.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, &actions.NotFoundError{Key: id}
	}
	if err != nil {
		return nil, &actions.StorageError{Operation: "get", Cause: err}
	}
	return action, nil
}

// FindLive returns the live action for a (rule, item) pair, or nil.
func (s *SQLiteStore) FindLive(ctx context.Context, ruleID, mediaExternalID string) (*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, err := scanAction(s.findLiveStmt.QueryRowContext(ctx, ruleID, mediaExternalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &actions.StorageError{Operation: "find live", Cause: err}
	}
	return action, nil
}

// ListLiveByRule returns all live actions for a rule.
func (s *SQLiteStore) ListLiveByRule(ctx context.Context, ruleID string) ([]*actions.PendingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.liveRuleStmt.QueryContext(ctx, ruleID)
	if err != nil {
		return nil, &actions.StorageError{Operation: "list live", Cause: err}
	}
	defer rows.Close()

	return collectActions(rows)
}

// List returns actions matching the query, newest first.
func (s *SQLiteStore) List(ctx context.Context, q actions.Query) ([]*actions.PendingAction, error) {
	whereClause, args := buildWhereClause(q, "updated_at")

	sqlQuery := `SELECT ` + actionColumns + ` FROM pending_actions`
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += " ORDER BY updated_at DESC"
	sqlQuery += paginationClause(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &actions.StorageError{Operation: "list", Cause: err}
	}
	defer rows.Close()

	return collectActions(rows)
}

// AppendResult records one executor attempt.
func (s *SQLiteStore) AppendResult(ctx context.Context, result *actions.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.resultStmt.ExecContext(ctx,
		result.ID,
		result.ActionID,
		result.RuleID,
		result.MediaExternalID,
		string(result.ActionType),
		result.Attempt,
		boolToInt(result.Success),
		result.ErrorMessage,
		result.ExecutedAt.Unix(),
	)
	if err != nil {
		return &actions.StorageError{Operation: "append result", Cause: err}
	}

	return nil
}

// ListResults returns execution results matching the query, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, q actions.Query) ([]*actions.ExecutionResult, error) {
	whereClause, args := buildResultWhereClause(q)

	sqlQuery := `SELECT id, action_id, rule_id, media_external_id, action_type,
		attempt, success, error_message, executed_at FROM execution_results`
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += " ORDER BY executed_at DESC"
	sqlQuery += paginationClause(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &actions.StorageError{Operation: "list results", Cause: err}
	}
	defer rows.Close()

	var out []*actions.ExecutionResult
	for rows.Next() {
		var (
			r          actions.ExecutionResult
			actionType string
			success    int
			executedAt int64
		)
		if err := rows.Scan(&r.ID, &r.ActionID, &r.RuleID, &r.MediaExternalID,
			&actionType, &r.Attempt, &success, &r.ErrorMessage, &executedAt); err != nil {
			return nil, &actions.StorageError{Operation: "list results", Cause: err}
		}
		r.ActionType = rules.ActionType(actionType)
		r.Success = success != 0
		r.ExecutedAt = time.Unix(executedAt, 0).UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, &actions.StorageError{Operation: "list results", Cause: err}
	}

	return out, nil
}

// Close releases database resources. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{
			s.saveStmt, s.getStmt, s.findLiveStmt, s.liveRuleStmt, s.resultStmt,
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

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the clause without the WHERE keyword plus the arguments.
func buildWhereClause(q actions.Query, timeColumn string) (string, []any) {
	var conditions []string
	var args []any

	if q.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if q.MediaExternalID != "" {
		conditions = append(conditions, "media_external_id = ?")
		args = append(args, q.MediaExternalID)
	}
	if len(q.States) > 0 {
		placeholders := make([]string, len(q.States))
		for i, state := range q.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		conditions = append(conditions, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, timeColumn+" >= ?")
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, timeColumn+" <= ?")
		args = append(args, q.Until.Unix())
	}

	return strings.Join(conditions, " AND "), args
}

func buildResultWhereClause(q actions.Query) (string, []any) {
	var conditions []string
	var args []any

	if q.RuleID != "" {
		conditions = append(conditions, "rule_id = ?")
		args = append(args, q.RuleID)
	}
	if q.MediaExternalID != "" {
		conditions = append(conditions, "media_external_id = ?")
		args = append(args, q.MediaExternalID)
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "executed_at >= ?")
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, "executed_at <= ?")
		args = append(args, q.Until.Unix())
	}

	return strings.Join(conditions, " AND "), args
}

func paginationClause(q actions.Query) string {
	limit := 100
	if q.Limit > 0 {
		limit = q.Limit
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if q.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", q.Offset)
	}
	return clause
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*actions.PendingAction, error) {
	var (
		a             actions.PendingAction
		mediaType     string
		actionType    string
		state         string
		cancelReason  string
		firstMatched  int64
		eligibleAt    int64
		lastReeval    int64
		executedAt    sql.NullInt64
		cancelledAt   sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)

	err := row.Scan(
		&a.ID,
		&a.RuleID,
		&mediaType,
		&a.MediaExternalID,
		&a.MediaTitle,
		&a.ServiceID,
		&actionType,
		&state,
		&cancelReason,
		&firstMatched,
		&eligibleAt,
		&lastReeval,
		&a.Attempts,
		&executedAt,
		&cancelledAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.MediaType = rules.MediaType(mediaType)
	a.ActionType = rules.ActionType(actionType)
	a.State = actions.State(state)
	a.CancelReason = actions.CancelReason(cancelReason)
	a.FirstMatchedAt = time.Unix(firstMatched, 0).UTC()
	a.EligibleAt = time.Unix(eligibleAt, 0).UTC()
	a.LastReevaluatedAt = time.Unix(lastReeval, 0).UTC()
	if executedAt.Valid {
		t := time.Unix(executedAt.Int64, 0).UTC()
		a.ExecutedAt = &t
	}
	if cancelledAt.Valid {
		t := time.Unix(cancelledAt.Int64, 0).UTC()
		a.CancelledAt = &t
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &a, nil
}

func collectActions(rows *sql.Rows) ([]*actions.PendingAction, error) {
	var out []*actions.PendingAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, &actions.StorageError{Operation: "scan", Cause: err}
		}
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, &actions.StorageError{Operation: "scan", Cause: err}
	}
	return out, nil
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
