package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rendis/caseflow/pkg/schema"
)

// AppendExecutionEvent appends an event with a monotonically increasing
// per-execution sequence.
func (s *LibSQLStore) AppendExecutionEvent(ctx context.Context, event *ExecutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_events (execution_id, step_id, event_type, detail, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.StepID), event.Type, nullStr(event.Detail), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// ListExecutionEvents returns an execution's events ordered by sequence.
func (s *LibSQLStore) ListExecutionEvents(ctx context.Context, executionID string) ([]*ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_id, event_type, detail, timestamp, sequence
		 FROM execution_events WHERE execution_id = ? ORDER BY sequence ASC`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ExecutionEvent
	for rows.Next() {
		e := &ExecutionEvent{}
		var stepID, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &stepID, &e.Type, &detail, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// StepTrace is the reconstructed outcome of one step within an execution.
type StepTrace struct {
	StepID  string
	Outcome schema.StepOutcome
	Detail  string
	At      time.Time
}

// Trace is the replayed view of an execution's event log.
type Trace struct {
	ExecutionID string
	Status      schema.ExecutionStatus
	Steps       map[string]*StepTrace
	Order       []string // step IDs in first-seen order
}

// EventLog provides replay over the execution event log of any Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide replay operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Replay rebuilds an execution's step outcomes from its event log.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, executionID string) (*Trace, error) {
	events, err := el.store.ListExecutionEvents(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	trace := &Trace{
		ExecutionID: executionID,
		Status:      schema.ExecutionStatusRunning,
		Steps:       make(map[string]*StepTrace),
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}

		switch e.Type {
		case schema.EventExecutionCompleted:
			trace.Status = schema.ExecutionStatusCompleted
			continue
		case schema.EventExecutionFailed:
			trace.Status = schema.ExecutionStatusFailed
			continue
		}
		if e.StepID == "" {
			continue
		}

		st, ok := trace.Steps[e.StepID]
		if !ok {
			st = &StepTrace{StepID: e.StepID}
			trace.Steps[e.StepID] = st
			trace.Order = append(trace.Order, e.StepID)
		}
		st.Detail = e.Detail
		st.At = e.Timestamp

		switch e.Type {
		case schema.EventStepCompleted:
			st.Outcome = schema.StepOutcomeCompleted
		case schema.EventStepSkipped:
			st.Outcome = schema.StepOutcomeSkipped
		case schema.EventStepDeferred:
			st.Outcome = schema.StepOutcomeDeferred
		case schema.EventStepFailed:
			st.Outcome = schema.StepOutcomeFailed
		}
	}

	return trace, nil
}
