package model

import "time"

// Status is the approval state of a user.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusBanned   Status = "banned"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusBanned:
		return true
	}
	return false
}

// transitions lists every change an administrator may make with a plain
// status write. Nothing ever returns to pending, and leaving banned is only
// possible through an unban (see CanTransition).
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusBanned},
	StatusApproved: {StatusRejected, StatusBanned},
	StatusRejected: {StatusApproved, StatusBanned},
	StatusBanned:   {},
}

// CanTransition reports whether moving from s to next is allowed.
//
// unban marks the explicit unban action. It is the only way out of banned
// and it only ever leads to approved. Writing the current status again is
// not a transition and returns false; callers treat it as a no-op.
func (s Status) CanTransition(next Status, unban bool) bool {
	if unban {
		return s == StatusBanned && next == StatusApproved
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StatusChange is one recorded approval transition.
type StatusChange struct {
	ID      string    `json:"id"`
	UserID  int64     `json:"userId"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	ActorID int64     `json:"actorId"`
	At      time.Time `json:"at"`
}
