package store

import "time"

// User is a registered principal. An empty Password marks a migrated legacy
// account that must authenticate once through its LegacyCredential record,
// which establishes a real credential. Deleted users are invisible to every
// lookup except the admin listing.
type User struct {
	ID          int64     `gorm:"primaryKey"`
	Username    string    `gorm:"size:32;uniqueIndex"`
	Password    string    `gorm:"size:256"`
	Nickname    string    `gorm:"size:32"`
	Level       int       `gorm:"default:1"`
	Deleted     bool      `gorm:"default:false"`
	CreatedAt   time.Time
	LastContact time.Time
}

// Public returns the client-visible shape of a user. The username is only
// exposed on admin listings.
func (u *User) Public(includeUsername bool) map[string]any {
	out := map[string]any{
		"id":       u.ID,
		"nickname": u.Nickname,
		"level":    u.Level,
	}
	if includeUsername {
		out["username"] = u.Username
		out["deleted"] = u.Deleted
	}
	return out
}

// Session ties a high-entropy key to a user. ActivityAt is refreshed on
// resolution as a best-effort touch.
type Session struct {
	ID         int64     `gorm:"primaryKey"`
	SessionKey string    `gorm:"size:32;uniqueIndex"`
	UserID     int64     `gorm:"index"`
	CreatedAt  time.Time
	ActivityAt time.Time
}

// LegacyCredential is the one-shot bridge for accounts imported without a
// password. The record is destroyed on first successful login.
type LegacyCredential struct {
	ID         int64  `gorm:"primaryKey"`
	Username   string `gorm:"size:32;uniqueIndex"`
	Salt       string `gorm:"size:64"`
	Hash       string `gorm:"size:256"`
	Iterations int
}

// NewsItem is a front-page news post.
type NewsItem struct {
	ID        int64  `gorm:"primaryKey"`
	Nickname  string `gorm:"size:32"`
	Message   string `gorm:"type:text"`
	Deleted   bool   `gorm:"default:false"`
	CreatedAt time.Time
}

func (n *NewsItem) Public() map[string]any {
	return map[string]any{
		"id":         n.ID,
		"nickname":   n.Nickname,
		"message":    n.Message,
		"created_at": n.CreatedAt,
	}
}

// ForumSection groups boards for presentation.
type ForumSection struct {
	ID        int64  `gorm:"primaryKey"`
	Title     string `gorm:"size:64"`
	SortIndex int    `gorm:"default:0"`
	Deleted   bool   `gorm:"default:false"`
}

func (s *ForumSection) Public() map[string]any {
	return map[string]any{
		"id":         s.ID,
		"title":      s.Title,
		"sort_index": s.SortIndex,
	}
}

// ForumBoard carries the read-level gate for everything beneath it. Callers
// below ReqLevel are shown "not found", not "forbidden".
type ForumBoard struct {
	ID          int64  `gorm:"primaryKey"`
	SectionID   int64  `gorm:"index"`
	Title       string `gorm:"size:64"`
	Description string `gorm:"type:text"`
	ReqLevel    int    `gorm:"default:0"`
	SortIndex   int    `gorm:"default:0"`
	Deleted     bool   `gorm:"default:false"`
}

func (b *ForumBoard) Public() map[string]any {
	return map[string]any{
		"id":          b.ID,
		"section":     b.SectionID,
		"title":       b.Title,
		"description": b.Description,
		"req_level":   b.ReqLevel,
		"sort_index":  b.SortIndex,
	}
}

// ForumThread is a conversation on a board.
type ForumThread struct {
	ID        int64  `gorm:"primaryKey"`
	BoardID   int64  `gorm:"index"`
	UserID    int64  `gorm:"index"`
	Title     string `gorm:"size:64"`
	Views     int64  `gorm:"default:0"`
	Sticky    bool   `gorm:"default:false"`
	Closed    bool   `gorm:"default:false"`
	Deleted   bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (t *ForumThread) Public() map[string]any {
	return map[string]any{
		"id":         t.ID,
		"board":      t.BoardID,
		"user":       t.UserID,
		"title":      t.Title,
		"views":      t.Views,
		"sticky":     t.Sticky,
		"closed":     t.Closed,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
}

// ForumPost is a single message in a thread.
type ForumPost struct {
	ID        int64  `gorm:"primaryKey"`
	ThreadID  int64  `gorm:"index"`
	UserID    int64  `gorm:"index"`
	Message   string `gorm:"type:text"`
	Deleted   bool   `gorm:"default:false"`
	CreatedAt time.Time
}

func (p *ForumPost) Public() map[string]any {
	return map[string]any{
		"id":         p.ID,
		"thread":     p.ThreadID,
		"user":       p.UserID,
		"message":    p.Message,
		"created_at": p.CreatedAt,
	}
}

// ForumPostEdit records one revision note against a post.
type ForumPostEdit struct {
	ID        int64  `gorm:"primaryKey"`
	PostID    int64  `gorm:"index"`
	UserID    int64  `gorm:"index"`
	Message   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (e *ForumPostEdit) Public() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"post":       e.PostID,
		"user":       e.UserID,
		"message":    e.Message,
		"created_at": e.CreatedAt,
	}
}

// ForumLastRead marks the newest point a user has seen in a thread. One row
// per user and thread.
type ForumLastRead struct {
	ID        int64 `gorm:"primaryKey"`
	ThreadID  int64 `gorm:"index:idx_last_read_thread_user,unique"`
	UserID    int64 `gorm:"index:idx_last_read_thread_user,unique"`
	CreatedAt time.Time
}
