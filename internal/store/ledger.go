// ABOUTME: Append-only ledger rows for tool invocations and AI routing decisions.
// ABOUTME: Both tables list newest first with a bounded limit.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolInvocation records one tools/call.
type ToolInvocation struct {
	ID        string
	SessionID string
	Tool      string
	OK        bool
	Error     string // empty on success
	Duration  time.Duration
	Timestamp time.Time
}

// RouteDecision records one AI routing attempt.
type RouteDecision struct {
	ID         string
	Query      string
	Candidates int
	Tool       string // "none" when nothing was selected
	ReasonCode string
	Reasoning  string
	Provider   string
	Duration   time.Duration
	Timestamp  time.Time
}

// ListFilter narrows ledger listings.
type ListFilter struct {
	Since *time.Time
	Tool  *string
	Limit int // default 100, max 1000
}

// normalizeLimit applies default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func sinceArg(f ListFilter) *string {
	if f.Since == nil {
		return nil
	}
	s := f.Since.UTC().Format(tsLayout)
	return &s
}

// AppendToolInvocation inserts inv, generating ID and Timestamp if unset.
func (s *SQLiteStore) AppendToolInvocation(ctx context.Context, inv *ToolInvocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now().UTC()
	}

	var errText *string
	if inv.Error != "" {
		errText = &inv.Error
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_invocations (invocation_id, session_id, tool, ok, error, duration_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID,
		inv.SessionID,
		inv.Tool,
		inv.OK,
		errText,
		inv.Duration.Milliseconds(),
		inv.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting tool invocation: %w", err)
	}

	s.logger.Debug("appended tool invocation", "id", inv.ID, "tool", inv.Tool, "ok", inv.OK)
	return nil
}

// ListToolInvocations returns invocations newest first.
func (s *SQLiteStore) ListToolInvocations(ctx context.Context, f ListFilter) ([]ToolInvocation, error) {
	since := sinceArg(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT invocation_id, session_id, tool, ok, error, duration_ms, ts
		FROM tool_invocations
		WHERE (? IS NULL OR ts >= ?)
		  AND (? IS NULL OR tool = ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, since, since, f.Tool, f.Tool, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying tool invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []ToolInvocation{}
	for rows.Next() {
		var (
			inv     ToolInvocation
			errText sql.NullString
			ms      int64
			ts      string
		)
		if err := rows.Scan(&inv.ID, &inv.SessionID, &inv.Tool, &inv.OK, &errText, &ms, &ts); err != nil {
			return nil, fmt.Errorf("scanning tool invocation: %w", err)
		}
		inv.Error = errText.String
		inv.Duration = time.Duration(ms) * time.Millisecond
		if inv.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool invocations: %w", err)
	}
	return out, nil
}

// AppendRouteDecision inserts d, generating ID and Timestamp if unset.
func (s *SQLiteStore) AppendRouteDecision(ctx context.Context, d *RouteDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_decisions (decision_id, query, candidates, tool, reason_code, reasoning, provider, duration_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.Query,
		d.Candidates,
		d.Tool,
		d.ReasonCode,
		d.Reasoning,
		d.Provider,
		d.Duration.Milliseconds(),
		d.Timestamp.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting route decision: %w", err)
	}

	s.logger.Debug("appended route decision", "id", d.ID, "tool", d.Tool, "reason_code", d.ReasonCode)
	return nil
}

// ListRouteDecisions returns decisions newest first.
func (s *SQLiteStore) ListRouteDecisions(ctx context.Context, f ListFilter) ([]RouteDecision, error) {
	since := sinceArg(f)
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, query, candidates, tool, reason_code, reasoning, provider, duration_ms, ts
		FROM route_decisions
		WHERE (? IS NULL OR ts >= ?)
		  AND (? IS NULL OR tool = ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, since, since, f.Tool, f.Tool, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying route decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []RouteDecision{}
	for rows.Next() {
		var (
			d         RouteDecision
			code, why sql.NullString
			ms        int64
			ts        string
		)
		if err := rows.Scan(&d.ID, &d.Query, &d.Candidates, &d.Tool, &code, &why, &d.Provider, &ms, &ts); err != nil {
			return nil, fmt.Errorf("scanning route decision: %w", err)
		}
		d.ReasonCode = code.String
		d.Reasoning = why.String
		d.Duration = time.Duration(ms) * time.Millisecond
		if d.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating route decisions: %w", err)
	}
	return out, nil
}
