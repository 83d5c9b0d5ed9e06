package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/caseflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	// A single connection serializes writers; claims rely on it only for
	// throughput, their correctness comes from the conditional update.
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SchemaVersion reports the applied migration version.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, firm_id, name, trigger_kind, entity_subtype, filter_expr, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.FirmID, wf.Name, string(wf.Trigger), nullStr(wf.EntitySubtype), nullStr(wf.Filter),
		boolInt(wf.Active), timeOrNow(wf.CreatedAt), timeOr(wf.UpdatedAt, now),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		step.WorkflowID = wf.ID
		cfg, err := marshalMapOrDefault(step.RawConfig)
		if err != nil {
			return fmt.Errorf("marshal step %s config: %w", step.ID, err)
		}
		var conds any
		if len(step.Conditions) > 0 {
			b, err := json.Marshal(step.Conditions)
			if err != nil {
				return fmt.Errorf("marshal step %s conditions: %w", step.ID, err)
			}
			conds = string(b)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_steps (id, workflow_id, step_order, action, config, conditions, when_expr, delay_minutes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			step.ID, wf.ID, step.Order, string(step.Action), string(cfg), conds, nullStr(step.When), step.DelayMinutes,
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.ID, err)
		}
	}

	return tx.Commit()
}

const workflowColumns = `id, firm_id, name, trigger_kind, entity_subtype, filter_expr, active, created_at, updated_at`

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	steps, err := s.listSteps(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.FirmID != "" {
		where = append(where, "firm_id = ?")
		args = append(args, filter.FirmID)
	}
	if filter.Trigger != "" {
		where = append(where, "trigger_kind = ?")
		args = append(args, string(filter.Trigger))
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*filter.Active))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before loading steps: the pool holds a single connection.
	rows.Close()

	for _, wf := range workflows {
		steps, err := s.listSteps(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		wf.Steps = steps
	}
	return workflows, nil
}

func (s *LibSQLStore) SetWorkflowActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

const stepColumns = `id, workflow_id, step_order, action, config, conditions, when_expr, delay_minutes`

func (s *LibSQLStore) GetStep(ctx context.Context, stepID string) (*schema.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE id = ?`, stepID)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step", stepID)
	}
	return step, err
}

func (s *LibSQLStore) listSteps(ctx context.Context, workflowID string) ([]schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id = ? ORDER BY step_order ASC, id ASC`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []schema.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var subtype, filter sql.NullString
	var trigger string
	if err := row.Scan(&wf.ID, &wf.FirmID, &wf.Name, &trigger, &subtype, &filter,
		&wf.Active, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Trigger = schema.TriggerKind(trigger)
	wf.EntitySubtype = subtype.String
	wf.Filter = filter.String
	return wf, nil
}

func scanStep(row rowScanner) (*schema.Step, error) {
	step := &schema.Step{}
	var action, cfg string
	var conds, when sql.NullString
	if err := row.Scan(&step.ID, &step.WorkflowID, &step.Order, &action, &cfg, &conds, &when, &step.DelayMinutes); err != nil {
		return nil, err
	}
	step.Action = schema.ActionKind(action)
	step.When = when.String
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &step.RawConfig); err != nil {
			return nil, fmt.Errorf("unmarshal step %s config: %w", step.ID, err)
		}
	}
	if conds.Valid && conds.String != "" {
		if err := json.Unmarshal([]byte(conds.String), &step.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal step %s conditions: %w", step.ID, err)
		}
	}
	return step, nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec.Status == "" {
		exec.Status = schema.ExecutionStatusRunning
	}
	exec.StartedAt = timeOrNow(exec.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, firm_id, trigger_kind, context, status, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.FirmID, string(exec.Trigger), rawOrEmptyObject(exec.Context),
		string(exec.Status), nullStr(exec.Error), exec.StartedAt, nullTime(exec.CompletedAt),
	)
	return err
}

const executionColumns = `id, workflow_id, firm_id, trigger_kind, context, status, error, started_at, completed_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

// FinishExecution moves a running execution to a terminal state. A record
// that already left running is never touched again.
func (s *LibSQLStore) FinishExecution(ctx context.Context, id string, status schema.ExecutionStatus, errMsg string) error {
	if !schema.CanTransitionExecution(schema.ExecutionStatusRunning, status) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: running -> %s", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = 'running'`,
		string(status), nullStr(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetExecution(ctx, id); getErr != nil {
			return getErr
		}
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %q is no longer running", id)
	}
	return nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.FirmID != "" {
		where = append(where, "firm_id = ?")
		args = append(args, filter.FirmID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	e := &Execution{}
	var trigger, status, ctxJSON string
	var errMsg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.FirmID, &trigger, &ctxJSON, &status, &errMsg,
		&e.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Trigger = schema.TriggerKind(trigger)
	e.Status = schema.ExecutionStatus(status)
	e.Context = json.RawMessage(ctxJSON)
	e.Error = errMsg.String
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

// --- Deferred steps ---

func (s *LibSQLStore) CreateDeferredStep(ctx context.Context, ds *DeferredStep) error {
	if ds.Status == "" {
		ds.Status = schema.DeferredStatusPending
	}
	ds.CreatedAt = timeOrNow(ds.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deferred_steps (id, execution_id, workflow_id, step_id, firm_id, context, execute_at, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, nullStr(ds.ExecutionID), ds.WorkflowID, ds.StepID, ds.FirmID, rawOrEmptyObject(ds.Context),
		ds.ExecuteAt.UnixMilli(), string(ds.Status), ds.CreatedAt,
	)
	return err
}

const deferredColumns = `id, execution_id, workflow_id, step_id, firm_id, context, execute_at, executed_at, status, error, claimed_by, claimed_at, created_at`

func (s *LibSQLStore) GetDeferredStep(ctx context.Context, id string) (*DeferredStep, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deferredColumns+` FROM deferred_steps WHERE id = ?`, id)
	ds, err := scanDeferred(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("deferred_step", id)
	}
	return ds, err
}

func (s *LibSQLStore) ListDueDeferredSteps(ctx context.Context, now time.Time, limit int) ([]*DeferredStep, error) {
	query := `SELECT ` + deferredColumns + ` FROM deferred_steps
		WHERE status = 'pending' AND execute_at <= ? ORDER BY execute_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeferredRows(rows)
}

func (s *LibSQLStore) ListDeferredSteps(ctx context.Context, filter DeferredFilter) ([]*DeferredStep, error) {
	var where []string
	var args []any

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.ClaimedBefore != nil {
		where = append(where, "claimed_at IS NOT NULL AND claimed_at < ?")
		args = append(args, filter.ClaimedBefore.UnixMilli())
	}

	query := `SELECT ` + deferredColumns + ` FROM deferred_steps`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY execute_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeferredRows(rows)
}

// ClaimDeferredStep atomically moves a pending record to running. It returns
// false when another worker claimed it first (or it is no longer pending).
func (s *LibSQLStore) ClaimDeferredStep(ctx context.Context, id, claimedBy string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deferred_steps SET status = 'running', claimed_by = ?, claimed_at = ?
		 WHERE id = ? AND status = 'pending'`,
		nullStr(claimedBy), at.UnixMilli(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishDeferredStep moves a claimed (running) record to executed or failed.
func (s *LibSQLStore) FinishDeferredStep(ctx context.Context, id string, status schema.DeferredStatus, errMsg string, at time.Time) error {
	if !schema.CanTransitionDeferred(schema.DeferredStatusRunning, status) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid deferred step transition: running -> %s", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deferred_steps SET status = ?, error = ?, executed_at = ? WHERE id = ? AND status = 'running'`,
		string(status), nullStr(errMsg), at.UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "running deferred_step", id)
}

// RequeueDeferredStep is the operator re-enqueue: a failed record, or one
// stuck in running, goes back to pending with a fresh execute_at.
func (s *LibSQLStore) RequeueDeferredStep(ctx context.Context, id string, executeAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deferred_steps SET status = 'pending', error = NULL, executed_at = NULL,
		   claimed_by = NULL, claimed_at = NULL, execute_at = ?
		 WHERE id = ? AND status IN ('failed', 'running')`,
		executeAt.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		ds, getErr := s.GetDeferredStep(ctx, id)
		if getErr != nil {
			return getErr
		}
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"deferred step %q is %s and cannot be requeued", id, ds.Status)
	}
	return nil
}

func scanDeferredRows(rows *sql.Rows) ([]*DeferredStep, error) {
	var out []*DeferredStep
	for rows.Next() {
		ds, err := scanDeferred(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func scanDeferred(row rowScanner) (*DeferredStep, error) {
	ds := &DeferredStep{}
	var execID, errMsg, claimedBy sql.NullString
	var ctxJSON, status string
	var executeAt int64
	var claimedAt sql.NullInt64
	var executedAt sql.NullTime
	if err := row.Scan(&ds.ID, &execID, &ds.WorkflowID, &ds.StepID, &ds.FirmID, &ctxJSON, &executeAt,
		&executedAt, &status, &errMsg, &claimedBy, &claimedAt, &ds.CreatedAt); err != nil {
		return nil, err
	}
	ds.ExecutionID = execID.String
	ds.Context = json.RawMessage(ctxJSON)
	ds.ExecuteAt = time.UnixMilli(executeAt).UTC()
	ds.Status = schema.DeferredStatus(status)
	ds.Error = errMsg.String
	ds.ClaimedBy = claimedBy.String
	if executedAt.Valid {
		ds.ExecutedAt = &executedAt.Time
	}
	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64).UTC()
		ds.ClaimedAt = &t
	}
	return ds, nil
}

// --- Directory ---

func (s *LibSQLStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, firm_id, name, email, phone, role) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET firm_id=excluded.firm_id, name=excluded.name,
		   email=excluded.email, phone=excluded.phone, role=excluded.role`,
		u.ID, u.FirmID, u.Name, nullStr(u.Email), nullStr(u.Phone), u.Role,
	)
	return err
}

func (s *LibSQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, firm_id, name, email, phone, role FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("user", id)
	}
	return u, err
}

// ListCaseTeam returns the firm's users assigned to the case. Assignments
// pointing at another firm's users are ignored.
func (s *LibSQLStore) ListCaseTeam(ctx context.Context, firmID, caseID string) ([]*User, error) {
	return s.queryUsers(ctx,
		`SELECT u.id, u.firm_id, u.name, u.email, u.phone, u.role
		 FROM case_assignments ca JOIN users u ON u.id = ca.user_id
		 WHERE ca.case_id = ? AND u.firm_id = ? ORDER BY u.id`, caseID, firmID)
}

func (s *LibSQLStore) ListFirmAdmins(ctx context.Context, firmID string) ([]*User, error) {
	return s.queryUsers(ctx,
		`SELECT id, firm_id, name, email, phone, role FROM users
		 WHERE firm_id = ? AND role IN (?, ?) ORDER BY id`, firmID, RoleOwner, RoleAdmin)
}

func (s *LibSQLStore) GetCaseLead(ctx context.Context, firmID, caseID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.firm_id, u.name, u.email, u.phone, u.role
		 FROM case_assignments ca JOIN users u ON u.id = ca.user_id
		 WHERE ca.case_id = ? AND ca.role = ? AND u.firm_id = ? ORDER BY u.id LIMIT 1`, caseID, CaseRoleLead, firmID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("case lead", caseID)
	}
	return u, err
}

func (s *LibSQLStore) AssignToCase(ctx context.Context, caseID, userID, role string) error {
	if role == "" {
		role = CaseRoleMember
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_assignments (case_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT(case_id, user_id) DO UPDATE SET role=excluded.role`,
		caseID, userID, role,
	)
	return err
}

func (s *LibSQLStore) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var email, phone sql.NullString
	if err := row.Scan(&u.ID, &u.FirmID, &u.Name, &email, &phone, &u.Role); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Phone = phone.String
	return u, nil
}

// --- Notifications ---

func (s *LibSQLStore) CreateNotification(ctx context.Context, n *Notification) error {
	n.CreatedAt = timeOrNow(n.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, firm_id, user_id, title, message, action_url, priority, workflow_id, execution_id, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.FirmID, n.UserID, n.Title, n.Message, nullStr(n.ActionURL), nullStr(n.Priority),
		nullStr(n.WorkflowID), nullStr(n.ExecutionID), boolInt(n.Read), n.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error) {
	var where []string
	var args []any

	if filter.FirmID != "" {
		where = append(where, "firm_id = ?")
		args = append(args, filter.FirmID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}

	query := `SELECT id, firm_id, user_id, title, message, action_url, priority, workflow_id, execution_id, is_read, created_at FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var actionURL, priority, wfID, execID sql.NullString
		if err := rows.Scan(&n.ID, &n.FirmID, &n.UserID, &n.Title, &n.Message, &actionURL, &priority,
			&wfID, &execID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.ActionURL = actionURL.String
		n.Priority = priority.String
		n.WorkflowID = wfID.String
		n.ExecutionID = execID.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Tasks ---

func (s *LibSQLStore) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = "open"
	}
	t.CreatedAt = timeOrNow(t.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, firm_id, case_id, title, description, assigned_to, due_date, priority, status, workflow_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.FirmID, nullStr(t.CaseID), t.Title, nullStr(t.Description), nullStr(t.AssignedTo),
		nullTime(t.DueDate), nullStr(t.Priority), t.Status, nullStr(t.WorkflowID), t.CreatedAt, t.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var where []string
	var args []any

	if filter.FirmID != "" {
		where = append(where, "firm_id = ?")
		args = append(args, filter.FirmID)
	}
	if filter.CaseID != "" {
		where = append(where, "case_id = ?")
		args = append(args, filter.CaseID)
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}

	query := `SELECT id, firm_id, case_id, title, description, assigned_to, due_date, priority, status, workflow_id, created_at FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t := &Task{}
		var caseID, desc, assignedTo, priority, wfID sql.NullString
		var due sql.NullTime
		if err := rows.Scan(&t.ID, &t.FirmID, &caseID, &t.Title, &desc, &assignedTo, &due, &priority,
			&t.Status, &wfID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CaseID = caseID.String
		t.Description = desc.String
		t.AssignedTo = assignedTo.String
		t.Priority = priority.String
		t.WorkflowID = wfID.String
		if due.Valid {
			t.DueDate = &due.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Chat integrations ---

func (s *LibSQLStore) UpsertChatIntegration(ctx context.Context, ci *ChatIntegration) error {
	ci.CreatedAt = timeOrNow(ci.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_integrations (id, firm_id, provider, enabled, webhook_url, access_token, channel_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(firm_id, provider) DO UPDATE SET enabled=excluded.enabled,
		   webhook_url=excluded.webhook_url, access_token=excluded.access_token, channel_id=excluded.channel_id`,
		ci.ID, ci.FirmID, ci.Provider, boolInt(ci.Enabled), nullStr(ci.WebhookURL),
		nullStr(ci.AccessToken), nullStr(ci.ChannelID), ci.CreatedAt,
	)
	return err
}

// GetChatIntegration returns the firm's enabled integration for provider.
func (s *LibSQLStore) GetChatIntegration(ctx context.Context, firmID, provider string) (*ChatIntegration, error) {
	ci := &ChatIntegration{}
	var webhook, token, channel sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, firm_id, provider, enabled, webhook_url, access_token, channel_id, created_at
		 FROM chat_integrations WHERE firm_id = ? AND provider = ? AND enabled = 1`, firmID, provider,
	).Scan(&ci.ID, &ci.FirmID, &ci.Provider, &ci.Enabled, &webhook, &token, &channel, &ci.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("chat integration", firmID+"/"+provider)
	}
	if err != nil {
		return nil, err
	}
	ci.WebhookURL = webhook.String
	ci.AccessToken = token.String
	ci.ChannelID = channel.String
	return ci, nil
}

// --- Entities ---

func (s *LibSQLStore) UpsertEntity(ctx context.Context, table string, e *Entity) error {
	t, err := entityTableOrErr(table)
	if err != nil {
		return err
	}
	e.UpdatedAt = timeOrNow(e.UpdatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+t+` (id, firm_id, status, assigned_to, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, assigned_to=excluded.assigned_to, updated_at=excluded.updated_at`,
		e.ID, e.FirmID, e.Status, nullStr(e.AssignedTo), e.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetEntity(ctx context.Context, table, id string) (*Entity, error) {
	t, err := entityTableOrErr(table)
	if err != nil {
		return nil, err
	}
	e := &Entity{}
	var assigned sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, firm_id, status, assigned_to, updated_at FROM `+t+` WHERE id = ?`, id,
	).Scan(&e.ID, &e.FirmID, &e.Status, &assigned, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(t, id)
	}
	if err != nil {
		return nil, err
	}
	e.AssignedTo = assigned.String
	return e, nil
}

func (s *LibSQLStore) UpdateEntityStatus(ctx context.Context, table, id, status string) error {
	t, err := entityTableOrErr(table)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+t+` SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, t, id)
}

func (s *LibSQLStore) AssignEntity(ctx context.Context, table, id, userID string) error {
	t, err := entityTableOrErr(table)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+t+` SET assigned_to = ?, updated_at = ? WHERE id = ?`, nullStr(userID), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, t, id)
}

func entityTableOrErr(name string) (string, error) {
	t, ok := EntityTable(name)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "table %q is not a mutable entity table", name)
	}
	return t, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rawOrEmptyObject(r json.RawMessage) string {
	if len(r) == 0 {
		return "{}"
	}
	return string(r)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
