package models

// Participant is a household member's standing inside a single thread.
// The acceptance flags form a small state machine: an invited participant
// moves to accepted or rejected, never both; LeftTS marks departure from an
// accepted thread.
type Participant struct {
	ID        string `json:"id"`
	UserID    string `json:"user"`
	InvitedTS int64  `json:"invited_ts,omitempty"`
	Accepted  bool   `json:"accepted,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	LeftTS    int64  `json:"left_ts,omitempty"`
}

type Thread struct {
	ID        string `json:"id"`
	Household string `json:"household"`
	// Author is an opaque identity id (clients manage meaning)
	Author    string `json:"author"`
	Title     string `json:"title,omitempty"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
	// Deleted marks a thread as soft-deleted; DeletedTS records deletion time (ns)
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`

	Participants []Participant `json:"participants,omitempty"`
}

// Participant returns the participant record for userID, if present.
func (t *Thread) Participant(userID string) (Participant, bool) {
	for _, p := range t.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// SetParticipant replaces the record for p.UserID, or appends it.
func (t *Thread) SetParticipant(p Participant) {
	for i := range t.Participants {
		if t.Participants[i].UserID == p.UserID {
			t.Participants[i] = p
			return
		}
	}
	t.Participants = append(t.Participants, p)
}
