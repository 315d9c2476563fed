package models

// Access decision reasons.
const (
	AccessReasonGranted         = "granted"
	AccessReasonUnauthenticated = "unauthenticated"
	AccessReasonCourseNotFound  = "course_not_found"
	AccessReasonNotEntitled     = "not_entitled"
)

// Principal identifies the caller of an access check. The zero value is anonymous.
type Principal struct {
	UserID string
	Role   UserRole
}

// Authenticated reports whether the principal carries a user id.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// AccessDecision is the outcome of an access check. Redirect names where a denied
// caller should be sent.
type AccessDecision struct {
	Granted  bool   `json:"granted"`
	Reason   string `json:"reason"`
	Redirect string `json:"redirect,omitempty"`
}

// PlayerView is the full course returned once access is granted, with lesson videos
// resolved to download links.
type PlayerView struct {
	Course      Course       `json:"course"`
	Entitlement *Entitlement `json:"entitlement,omitempty"`
}
