package models

// PollKind selects the voting mode of a poll.
type PollKind string

const (
	PollSingle    PollKind = "single"
	PollMultiple  PollKind = "multiple"
	PollRanked    PollKind = "ranked"
	PollEventDate PollKind = "event_date"
)

// KnownPollKind reports whether k is a recognized poll kind.
func KnownPollKind(k PollKind) bool {
	switch k {
	case PollSingle, PollMultiple, PollRanked, PollEventDate:
		return true
	}
	return false
}

const (
	PollOpen   = "open"
	PollClosed = "closed"
)

// PollVote is one user's vote for an option. Rank is only meaningful for
// ranked polls.
type PollVote struct {
	ID     string `json:"id"`
	UserID string `json:"user"`
	Rank   int    `json:"rank,omitempty"`
}

// PollOption holds its own vote set; VoteCount is derived and kept in step
// with the set so list views never re-count.
type PollOption struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Votes     []PollVote `json:"votes,omitempty"`
	VoteCount int        `json:"vote_count"`
}

type Poll struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Question string   `json:"question"`
	Kind     PollKind `json:"kind"`
	Status   string   `json:"status,omitempty"`
	EndTS    int64    `json:"end_ts,omitempty"`

	Options []PollOption `json:"options,omitempty"`
}

// Option returns a pointer into p.Options for optionID, or nil.
func (p *Poll) Option(optionID string) *PollOption {
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			return &p.Options[i]
		}
	}
	return nil
}

// AddVote appends a vote to the option and bumps the derived count.
// It refuses a second vote by the same user on the same option.
func (o *PollOption) AddVote(v PollVote) bool {
	for _, ex := range o.Votes {
		if ex.UserID == v.UserID {
			return false
		}
	}
	o.Votes = append(o.Votes, v)
	o.VoteCount = len(o.Votes)
	return true
}

// RemoveVote drops userID's vote from the option, if present.
func (o *PollOption) RemoveVote(userID string) bool {
	for i, ex := range o.Votes {
		if ex.UserID == userID {
			o.Votes = append(o.Votes[:i], o.Votes[i+1:]...)
			o.VoteCount = len(o.Votes)
			return true
		}
	}
	return false
}
