package models

// Attachment is a file reference carried by a message. Order is the upload
// order and is preserved.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	FileType string `json:"file_type,omitempty"`
}

// Reaction is a single user's emoji reaction on a message.
type Reaction struct {
	ID     string `json:"id"`
	UserID string `json:"user"`
	Emoji  string `json:"emoji"`
	Type   string `json:"type,omitempty"`
}

// Mention records that a user was mentioned in a message body.
type Mention struct {
	ID     string `json:"id"`
	UserID string `json:"user"`
	TS     int64  `json:"ts,omitempty"`
}

// ReadSummary is the read-receipt rollup for a message: who has read it and
// who has not.
type ReadSummary struct {
	ReadBy   []string `json:"read_by,omitempty"`
	UnreadBy []string `json:"unread_by,omitempty"`
}

type Message struct {
	ID     string `json:"id"`
	Thread string `json:"thread"`
	Author string `json:"author,omitempty"`
	// Content is the message text; may be empty when attachments carry
	// the payload.
	Content   string `json:"content,omitempty"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
	// Deleted marks soft deletion; the record stays cached until the
	// retention sweeper purges it.
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`
	// PollID references an attached poll entity, when present.
	PollID string      `json:"poll_id,omitempty"`
	Reads  ReadSummary `json:"reads"`
}

// HasReaction reports whether user already reacted with emoji.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// MarkRead moves userID from the unread set to the read set. Idempotent.
func (m *Message) MarkRead(userID string) {
	for _, u := range m.Reads.ReadBy {
		if u == userID {
			return
		}
	}
	m.Reads.ReadBy = append(m.Reads.ReadBy, userID)
	unread := make([]string, 0, len(m.Reads.UnreadBy))
	for _, u := range m.Reads.UnreadBy {
		if u != userID {
			unread = append(unread, u)
		}
	}
	m.Reads.UnreadBy = unread
}
