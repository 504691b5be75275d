package events

import "strings"

// Approved action namespace prefixes. Events whose action falls outside
// these prefixes are rejected at the boundary.
var approvedPrefixes = []string{"ccode.", "system.", "quality.", "dashboard."}

// Query lifecycle actions emitted by the guarded executor.
const (
	ActionQueryExecuted   = "ccode.mcp.query_executed"
	ActionQueryRejected   = "ccode.mcp.query_rejected"
	ActionQueryFailed     = "ccode.mcp.query_failed"
	ActionQueryOverBudget = "ccode.mcp.query_over_budget"
	ActionQueryDenied     = "ccode.mcp.query_denied"
)

// Session lifecycle actions.
const (
	ActionSessionStarted = "ccode.session.started"
	ActionSessionEnded   = "ccode.session.ended"
)

// Quality actions emitted by the event log client.
const (
	ActionCircuitBroken  = "quality.circuit.broken"
	ActionEventRejected  = "quality.event.rejected"
	ActionSpoolRecovered = "quality.spool.recovered"
)

// Dashboard lifecycle actions emitted by the dashboard factory.
const (
	ActionVersionUploaded  = "dashboard.version.uploaded"
	ActionVersionActive    = "dashboard.version.active"
	ActionBlueGreenSwapped = "dashboard.blue_green.swapped"
	ActionRollbackExecuted = "dashboard.rollback.executed"
	ActionCreationFailed   = "dashboard.creation_failed"
	ActionCreationTimeout  = "dashboard.creation_timeout"
)

// System administration actions.
const (
	ActionPermissionGranted = "system.permission.granted"
	ActionPermissionRevoked = "system.permission.revoked"
	ActionActivationCreated = "system.activation.created"
	ActionActivationUsed    = "system.activation.used"
	ActionActivationExpired = "system.activation.expired"
	ActionUserCreated       = "system.user.created"
)

// Contract sentinel actions.
const (
	ActionSchemaValidation = "ccode.schema_validation"
	ActionSchemaViolation  = "ccode.schema_violation"
)

// ValidAction reports whether the action carries an approved namespace
// prefix and has a non-empty tail after the prefix.
func ValidAction(action string) bool {
	for _, p := range approvedPrefixes {
		if strings.HasPrefix(action, p) && len(action) > len(p) {
			return true
		}
	}
	return false
}
