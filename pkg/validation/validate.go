// Package validation checks mutation payloads before the speculative write
// goes in. A rejection here still runs the engine's uniform rollback path,
// so validation is cheap to add per operation.
package validation

import (
	"fmt"

	"hearth/pkg/models"
)

// ValidateMessage requires a thread reference and some payload: text
// content or at least one attachment.
func ValidateMessage(m models.Message) error {
	if m.Thread == "" {
		return fmt.Errorf("message missing thread")
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return fmt.Errorf("message requires content or attachments")
	}
	return nil
}

// ValidateThread requires a household reference and a title.
func ValidateThread(t models.Thread) error {
	if t.Household == "" {
		return fmt.Errorf("thread missing household")
	}
	if t.Title == "" {
		return fmt.Errorf("thread missing title")
	}
	return nil
}

// ValidatePoll requires a known kind, a question, and at least two options.
// Event-date polls must carry an end date.
func ValidatePoll(p models.Poll) error {
	if !models.KnownPollKind(p.Kind) {
		return fmt.Errorf("unknown poll kind: %q", p.Kind)
	}
	if p.Question == "" {
		return fmt.Errorf("poll missing question")
	}
	if len(p.Options) < 2 {
		return fmt.Errorf("poll requires at least two options")
	}
	if p.Kind == models.PollEventDate && p.EndTS == 0 {
		return fmt.Errorf("event-date poll requires an end date")
	}
	return nil
}

// ValidateMember enforces the invitation state machine: accepted and
// rejected are mutually exclusive, selection implies acceptance, and a
// departure timestamp only makes sense for an accepted member.
func ValidateMember(m models.Member) error {
	if m.Accepted && m.Rejected {
		return fmt.Errorf("member cannot be both accepted and rejected")
	}
	if m.Selected && !m.Accepted {
		return fmt.Errorf("member cannot be selected before accepting")
	}
	if m.LeftTS != 0 && !m.Accepted {
		return fmt.Errorf("member cannot leave without having accepted")
	}
	if m.Role != "" && m.Role != models.RoleAdmin && m.Role != models.RoleMember {
		return fmt.Errorf("unknown member role: %q", m.Role)
	}
	return nil
}
