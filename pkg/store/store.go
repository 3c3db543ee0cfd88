// Package store is the durable storage layer. It exposes a transactional
// unit-of-work (Tx) with typed entity accessors, so handlers never touch the
// underlying ORM and tests can substitute an in-memory implementation.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is the distinguishable "no such row" signal. Lookups that
// filter on the soft-delete flag report deleted rows as not found.
var ErrNotFound = errors.New("store: not found")

// ErrNotConnected reports an operation attempted while the connection pool is
// invalidated or was never opened. Worker loops treat it as a connectivity
// fault and reconnect.
var ErrNotConnected = errors.New("store: not connected")

// Store opens transactions against the durable store.
type Store interface {
	Begin() (Tx, error)
}

// Tx is one storage transaction. Every read and write issued through it is
// atomic with respect to Commit/Rollback. Close releases the transaction
// handle and rolls back if neither Commit nor Rollback ran; it is safe to
// call after either.
type Tx interface {
	Commit() error
	Rollback() error
	Close()

	// Users. UserByID and UserByUsername report deleted users as not found.
	UserByID(id int64) (*User, error)
	UserByUsername(username string) (*User, error)
	CreateUser(u *User) error
	UpdateUser(u *User) error
	ListUsers(includeDeleted bool, offset, limit int) ([]User, error)
	CountUsers(includeDeleted bool) (int64, error)

	// Sessions.
	SessionByKey(key string) (*Session, error)
	CreateSession(s *Session) error
	DeleteSessionByID(id int64) error
	DeleteSessionByKey(key string) error
	TouchSession(id int64, at time.Time) error

	// Legacy credential bridge.
	LegacyCredentialByUsername(username string) (*LegacyCredential, error)
	DeleteLegacyCredential(id int64) error

	// News.
	NewsItemByID(id int64) (*NewsItem, error)
	ListNewsItems(offset, limit int) ([]NewsItem, error)
	CountNewsItems() (int64, error)
	CreateNewsItem(n *NewsItem) error
	UpdateNewsItem(n *NewsItem) error

	// Forum sections. ListVisibleSections returns sections that have at
	// least one non-deleted board readable at the given level.
	SectionByID(id int64) (*ForumSection, error)
	ListVisibleSections(level int) ([]ForumSection, error)
	CreateSection(s *ForumSection) error
	UpdateSection(s *ForumSection) error

	// Forum boards. ListBoards filters by section when sectionID > 0 and
	// always excludes boards above maxLevel.
	BoardByID(id int64) (*ForumBoard, error)
	ListBoards(sectionID int64, maxLevel int) ([]ForumBoard, error)
	CreateBoard(b *ForumBoard) error
	UpdateBoard(b *ForumBoard) error

	// Forum threads.
	ThreadByID(id int64) (*ForumThread, error)
	ListThreads(boardID int64, offset, limit int) ([]ForumThread, error)
	CountThreads(boardID int64) (int64, error)
	CreateThread(t *ForumThread) error
	UpdateThread(t *ForumThread) error

	// Forum posts.
	PostByID(id int64) (*ForumPost, error)
	ListPosts(threadID int64, offset, limit int) ([]ForumPost, error)
	CountPosts(threadID int64) (int64, error)
	CreatePost(p *ForumPost) error
	UpdatePost(p *ForumPost) error

	// Post edit history.
	CreatePostEdit(e *ForumPostEdit) error
	ListPostEdits(postID int64) ([]ForumPostEdit, error)

	// Per-user thread read markers.
	LastRead(threadID, userID int64) (*ForumLastRead, error)
	SetLastRead(threadID, userID int64, at time.Time) error
}
