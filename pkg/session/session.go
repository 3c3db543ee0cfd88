// Package session resolves an opaque session key into a user session for the
// duration of one request. Resolution never fails for "not found" reasons:
// missing keys, unknown keys and orphaned session records all yield an
// anonymous session, and orphans are deleted on sight.
package session

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/store"
)

// Authorization levels. Levels are ordered; a check for level L passes for
// any session at level >= L.
const (
	LevelGuest = 0
	LevelUser  = 1
	LevelAdmin = 2
)

// UserSession is the resolved session for one request. An anonymous session
// has no user and no record.
type UserSession struct {
	tx     store.Tx
	logger *zap.Logger
	user   *store.User
	record *store.Session
}

// Resolve looks up the session for key within the given transaction. An
// empty key yields an anonymous session. A session record whose user no
// longer exists is deleted and also yields anonymous, self-healing the
// orphan. Only infrastructure errors are returned.
func Resolve(tx store.Tx, key string, logger *zap.Logger) (*UserSession, error) {
	s := &UserSession{tx: tx, logger: logger.Named("session")}
	if key == "" {
		return s, nil
	}

	record, err := tx.SessionByKey(key)
	if errors.Is(err, store.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	user, err := tx.UserByID(record.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// The referenced user is gone; drop the stale record.
		if delErr := tx.DeleteSessionByKey(key); delErr != nil {
			return nil, delErr
		}
		s.logger.Warn("Deleted orphaned session", zap.String("session_key", key))
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s.record = record
	s.user = user
	return s, nil
}

// Valid reports whether the session belongs to an authenticated user.
func (s *UserSession) Valid() bool {
	return s.record != nil && s.user != nil
}

// User returns the authenticated user, or nil for anonymous sessions.
func (s *UserSession) User() *store.User {
	return s.user
}

// Key returns the session key, or "" for anonymous sessions.
func (s *UserSession) Key() string {
	if s.record == nil {
		return ""
	}
	return s.record.SessionKey
}

// Level returns the session's authorization level; anonymous sessions are
// guests.
func (s *UserSession) Level() int {
	if s.user == nil {
		return LevelGuest
	}
	return s.user.Level
}

// HasLevel reports whether the session meets the required level. Guest level
// is trivially satisfied.
func (s *UserSession) HasLevel(level int) bool {
	return s.Level() >= level
}

// Invalidate deletes the underlying session record. Resolving the same key
// afterwards yields an anonymous session.
func (s *UserSession) Invalidate() error {
	if s.record == nil {
		return nil
	}
	if err := s.tx.DeleteSessionByID(s.record.ID); err != nil {
		return err
	}
	s.record = nil
	s.user = nil
	return nil
}

// Touch refreshes the activity timestamp. Best effort: a failure is logged
// and never surfaced to the request.
func (s *UserSession) Touch() {
	if s.record == nil {
		return
	}
	if err := s.tx.TouchSession(s.record.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("Failed to update session activity",
			zap.Int64("session_id", s.record.ID),
			zap.Error(err),
		)
	}
}
