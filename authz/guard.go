package authz

// GuardAction is the outcome of a guard evaluation.
type GuardAction int

const (
	// GuardWait means session state is still loading; render nothing yet.
	GuardWait GuardAction = iota
	// GuardRedirect means send the visitor to Decision.Target.
	GuardRedirect
	// GuardAllow means render the protected content.
	GuardAllow
)

// Redirect targets used by the guard.
const (
	SignInPath    = "/auth"
	HomePath      = "/"
	DashboardPath = "/dashboard"
)

// GuardRequirement describes what a protected route demands.
type GuardRequirement struct {
	// RequireAdmin demands the system-wide admin role.
	RequireAdmin bool
	// RequireOrgAccess demands an active organization at MinLevel.
	RequireOrgAccess bool
	// MinLevel is the access level required in the active organization.
	// Zero means level 1.
	MinLevel AccessLevel
}

// GuardState is the session state the guard evaluates against.
type GuardState struct {
	// Loading is true while the session is still being resolved.
	Loading bool
	// Snapshot is the membership snapshot, nil when signed out.
	Snapshot *Snapshot
	// ActiveOrgID is the selected organization, empty when none.
	ActiveOrgID string
	// RequestedPath is the path the visitor asked for, preserved across
	// the sign-in redirect.
	RequestedPath string
}

// Decision is the guard's verdict.
type Decision struct {
	Action GuardAction
	// Target is the redirect destination when Action is GuardRedirect.
	Target string
	// ReturnTo is the originally requested path, set only on the
	// sign-in redirect so the visitor lands back where they started.
	ReturnTo string
}

// EvaluateGuard runs the ordered route checks. Earlier checks win: a loading
// session short-circuits everything, a missing identity beats a missing org,
// and the admin check runs before any org check.
func EvaluateGuard(state GuardState, req GuardRequirement) Decision {
	if state.Loading {
		return Decision{Action: GuardWait}
	}

	if state.Snapshot == nil || state.Snapshot.UserID() == "" {
		return Decision{
			Action:   GuardRedirect,
			Target:   SignInPath,
			ReturnTo: state.RequestedPath,
		}
	}

	if req.RequireAdmin && !state.Snapshot.IsGlobalAdmin() {
		return Decision{Action: GuardRedirect, Target: HomePath}
	}

	if req.RequireOrgAccess {
		if state.ActiveOrgID == "" {
			return Decision{Action: GuardRedirect, Target: DashboardPath}
		}
		required := req.MinLevel
		if required == 0 {
			required = LevelMember
		}
		if !state.Snapshot.CanPerform(state.ActiveOrgID, required) {
			return Decision{Action: GuardRedirect, Target: DashboardPath}
		}
	}

	return Decision{Action: GuardAllow}
}
