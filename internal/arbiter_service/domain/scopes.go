package domain

// Capability scopes. A token's scope list gates which operations its bearer
// may invoke; scopes only ever grow within a session, never beyond the
// session's original expiry.
const (
	ScopeAssignmentsList       = "assignments.list"
	ScopeAssignmentsRequest    = "assignments.request"
	ScopeAssignmentsUnregister = "assignments.unregister"
	ScopeBearerRequest         = "bearer.request"
)

// InitialScopes are granted at session init. assignments.unregister is
// deliberately absent: it is escalated to only after a device wins a claim.
func InitialScopes() []string {
	return []string{ScopeBearerRequest, ScopeAssignmentsList, ScopeAssignmentsRequest}
}
