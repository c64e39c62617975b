package auth

import "strings"

// Role is the logical access scope that governs which tables a generated
// query may reference.
type Role string

const (
	RoleDepot      Role = "depot"
	RoleDistillery Role = "distillery"
)

// depotPrefix is matched case-sensitively against the raw usercode.
const depotPrefix = "DEPO"

// ResolveRole determines the caller's scope. An explicit role, once trimmed
// and lowercased, overrides any usercode-based inference and is passed
// through verbatim, even if it names a role we have no rules for. With no
// explicit role, usercodes starting with "DEPO" are depot callers and
// everything else is a distillery caller.
func ResolveRole(usercode, role string) Role {
	normalized := strings.ToLower(strings.TrimSpace(role))
	if normalized != "" {
		return Role(normalized)
	}
	if strings.HasPrefix(usercode, depotPrefix) {
		return RoleDepot
	}
	return RoleDistillery
}
