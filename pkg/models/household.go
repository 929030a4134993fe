package models

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Household struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}

// Member is a user's membership record in a household. The invitation
// lifecycle is four flags: Invited until resolved, then Accepted xor
// Rejected; Selected is an orthogonal visibility toggle only meaningful in
// the accepted state. LeftTS marks a terminal departure from accepted.
type Member struct {
	ID        string `json:"id"`
	Household string `json:"household"`
	UserID    string `json:"user"`
	Role      string `json:"role,omitempty"`

	Invited  bool  `json:"invited,omitempty"`
	Accepted bool  `json:"accepted,omitempty"`
	Rejected bool  `json:"rejected,omitempty"`
	Selected bool  `json:"selected,omitempty"`
	LeftTS   int64 `json:"left_ts,omitempty"`
}

// Resolved reports whether the invitation reached a terminal decision.
func (m *Member) Resolved() bool { return m.Accepted || m.Rejected }
