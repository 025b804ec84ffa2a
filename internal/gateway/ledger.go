// ABOUTME: Adapts the SQLite audit ledger to the mcp and airouter recorder interfaces.
// ABOUTME: Writes detach from request cancellation so a dropped client still gets audited.

package gateway

import (
	"context"

	"github.com/2389/meili-gateway/internal/airouter"
	"github.com/2389/meili-gateway/internal/mcp"
	"github.com/2389/meili-gateway/internal/store"
)

type ledgerRecorder struct {
	ledger *store.SQLiteStore
}

func (r ledgerRecorder) RecordToolCall(ctx context.Context, rec mcp.ToolCallRecord) error {
	return r.ledger.AppendToolInvocation(context.WithoutCancel(ctx), &store.ToolInvocation{
		SessionID: rec.SessionID,
		Tool:      rec.Tool,
		OK:        rec.OK,
		Error:     rec.Error,
		Duration:  rec.Duration,
	})
}

func (r ledgerRecorder) RecordRoute(ctx context.Context, rec airouter.RouteRecord) error {
	return r.ledger.AppendRouteDecision(context.WithoutCancel(ctx), &store.RouteDecision{
		Query:      rec.Query,
		Candidates: rec.Candidates,
		Tool:       rec.ToolName,
		ReasonCode: rec.ReasonCode,
		Reasoning:  rec.Reasoning,
		Provider:   rec.Provider,
		Duration:   rec.Duration,
	})
}
