package content

// Status represents the publish lifecycle state of a Post.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublishing, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the post reached a final publish outcome.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPublished, StatusFailed:
		return true
	}
	return false
}

// ValidTransitions defines the allowed status transitions.
//
// failed -> scheduled is the explicit external reschedule path; the engine
// itself never re-enters scheduled from a terminal state.
var ValidTransitions = map[Status][]Status{
	StatusDraft:      {StatusScheduled},
	StatusScheduled:  {StatusPublishing, StatusDraft},
	StatusPublishing: {StatusPublished, StatusFailed},
	StatusFailed:     {StatusScheduled},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
