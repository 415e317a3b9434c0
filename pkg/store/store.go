package store

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("record already exists")
)

const DefaultRecentLimit = 5

// RecentQuery filters the update history. Empty fields match everything.
type RecentQuery struct {
	GameID string
	AppID  string
	Limit  int
}
