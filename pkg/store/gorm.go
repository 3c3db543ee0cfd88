package store

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB is the GORM-backed Store. It owns the database connection for one worker
// process and supports invalidate-and-reconnect after connectivity faults.
type DB struct {
	dsn    string
	logger *zap.Logger
	gdb    *gorm.DB
	closed bool
}

// Open prepares a DB for the given DSN without connecting. Call Connect
// before Begin.
func Open(dsn string, logger *zap.Logger) *DB {
	return &DB{dsn: dsn, logger: logger.Named("store"), closed: true}
}

// Connect establishes the database connection pool.
func (d *DB) Connect() error {
	gdb, err := gorm.Open(mysql.Open(d.dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return err
	}
	d.gdb = gdb
	d.closed = false
	d.logger.Info("Connected to database")
	return nil
}

// IsClosed reports whether the connection has been invalidated or never
// opened.
func (d *DB) IsClosed() bool {
	return d.closed
}

// Invalidate discards the connection pool after a connectivity fault. The
// next Connect starts from scratch.
func (d *DB) Invalidate() {
	if d.gdb != nil {
		if sqlDB, err := d.gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	d.closed = true
	d.logger.Warn("Database connection invalidated")
}

// Close shuts the connection pool down.
func (d *DB) Close() {
	d.Invalidate()
	d.logger.Info("Database connection closed")
}

// Begin opens a storage transaction.
func (d *DB) Begin() (Tx, error) {
	if d.closed || d.gdb == nil {
		return nil, ErrNotConnected
	}
	tx := d.gdb.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{tx: tx}, nil
}

// gormTx implements Tx over a *gorm.DB transaction. Commit and Rollback are
// wrapped so the interface deals in plain errors instead of GORM's chained
// return values.
type gormTx struct {
	tx   *gorm.DB
	done bool
}

var _ Tx = (*gormTx)(nil)

func (t *gormTx) Commit() error {
	t.done = true
	return t.tx.Commit().Error
}

func (t *gormTx) Rollback() error {
	t.done = true
	return t.tx.Rollback().Error
}

func (t *gormTx) Close() {
	if !t.done {
		t.tx.Rollback()
		t.done = true
	}
}

// notFound translates GORM's record-not-found into the package sentinel.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (t *gormTx) UserByID(id int64) (*User, error) {
	var u User
	if err := t.tx.Where("id = ? AND deleted = ?", id, false).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *gormTx) UserByUsername(username string) (*User, error) {
	var u User
	if err := t.tx.Where("username = ? AND deleted = ?", username, false).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *gormTx) CreateUser(u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastContact.IsZero() {
		u.LastContact = now
	}
	return t.tx.Create(u).Error
}

func (t *gormTx) UpdateUser(u *User) error {
	return t.tx.Save(u).Error
}

func (t *gormTx) ListUsers(includeDeleted bool, offset, limit int) ([]User, error) {
	q := t.tx.Model(&User{}).Order("username ASC")
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}
	q = applyWindow(q, offset, limit)
	var users []User
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (t *gormTx) CountUsers(includeDeleted bool) (int64, error) {
	q := t.tx.Model(&User{})
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (t *gormTx) SessionByKey(key string) (*Session, error) {
	var s Session
	if err := t.tx.Where("session_key = ?", key).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (t *gormTx) CreateSession(s *Session) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.ActivityAt.IsZero() {
		s.ActivityAt = now
	}
	return t.tx.Create(s).Error
}

func (t *gormTx) DeleteSessionByID(id int64) error {
	return t.tx.Delete(&Session{}, id).Error
}

func (t *gormTx) DeleteSessionByKey(key string) error {
	return t.tx.Where("session_key = ?", key).Delete(&Session{}).Error
}

func (t *gormTx) TouchSession(id int64, at time.Time) error {
	return t.tx.Model(&Session{}).Where("id = ?", id).Update("activity_at", at).Error
}

func (t *gormTx) LegacyCredentialByUsername(username string) (*LegacyCredential, error) {
	var lc LegacyCredential
	if err := t.tx.Where("username = ?", username).First(&lc).Error; err != nil {
		return nil, notFound(err)
	}
	return &lc, nil
}

func (t *gormTx) DeleteLegacyCredential(id int64) error {
	return t.tx.Delete(&LegacyCredential{}, id).Error
}

func (t *gormTx) NewsItemByID(id int64) (*NewsItem, error) {
	var n NewsItem
	if err := t.tx.Where("id = ? AND deleted = ?", id, false).First(&n).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (t *gormTx) ListNewsItems(offset, limit int) ([]NewsItem, error) {
	q := t.tx.Model(&NewsItem{}).Where("deleted = ?", false).Order("id DESC")
	q = applyWindow(q, offset, limit)
	var items []NewsItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *gormTx) CountNewsItems() (int64, error) {
	var n int64
	err := t.tx.Model(&NewsItem{}).Where("deleted = ?", false).Count(&n).Error
	return n, err
}

func (t *gormTx) CreateNewsItem(n *NewsItem) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return t.tx.Create(n).Error
}

func (t *gormTx) UpdateNewsItem(n *NewsItem) error {
	return t.tx.Save(n).Error
}

func (t *gormTx) SectionByID(id int64) (*ForumSection, error) {
	var s ForumSection
	if err := t.tx.Where("id = ? AND deleted = ?", id, false).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (t *gormTx) ListVisibleSections(level int) ([]ForumSection, error) {
	sub := t.tx.Model(&ForumBoard{}).
		Select("count(*)").
		Where("forum_boards.section_id = forum_sections.id AND forum_boards.deleted = ? AND forum_boards.req_level <= ?", false, level)
	var sections []ForumSection
	err := t.tx.Model(&ForumSection{}).
		Where("deleted = ?", false).
		Where("(?) > 0", sub).
		Order("sort_index ASC, id ASC").
		Find(&sections).Error
	if err != nil {
		return nil, err
	}
	return sections, nil
}

func (t *gormTx) CreateSection(s *ForumSection) error {
	return t.tx.Create(s).Error
}

func (t *gormTx) UpdateSection(s *ForumSection) error {
	return t.tx.Save(s).Error
}

func (t *gormTx) BoardByID(id int64) (*ForumBoard, error) {
	var b ForumBoard
	if err := t.tx.Where("id = ? AND deleted = ?", id, false).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (t *gormTx) ListBoards(sectionID int64, maxLevel int) ([]ForumBoard, error) {
	q := t.tx.Model(&ForumBoard{}).
		Where("deleted = ? AND req_level <= ?", false, maxLevel).
		Order("sort_index ASC, id ASC")
	if sectionID > 0 {
		q = q.Where("section_id = ?", sectionID)
	}
	var boards []ForumBoard
	if err := q.Find(&boards).Error; err != nil {
		return nil, err
	}
	return boards, nil
}

func (t *gormTx) CreateBoard(b *ForumBoard) error {
	return t.tx.Create(b).Error
}

func (t *gormTx) UpdateBoard(b *ForumBoard) error {
	return t.tx.Save(b).Error
}

func (t *gormTx) ThreadByID(id int64) (*ForumThread, error) {
	var th ForumThread
	if err := t.tx.Where("id = ? AND deleted = ?", id, false).First(&th).Error; err != nil {
		return nil, notFound(err)
	}
	return &th, nil
}

func (t *gormTx) ListThreads(boardID int64, offset, limit int) ([]ForumThread, error) {
	q := t.tx.Model(&ForumThread{}).
		Where("board_id = ? AND deleted = ?", boardID, false).
		Order("sticky DESC, updated_at DESC")
	q = applyWindow(q, offset, limit)
	var threads []ForumThread
	if err := q.Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (t *gormTx) CountThreads(boardID int64) (int64, error) {
	var n int64
	err := t.tx.Model(&ForumThread{}).
		Where("board_id = ? AND deleted = ?", boardID, false).
		Count(&n).Error
	return n, err
}

func (t *gormTx) CreateThread(th *ForumThread) error {
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	th.UpdatedAt = now
	return t.tx.Create(th).Error
}

func (t *gormTx) UpdateThread(th *ForumThread) error {
	th.UpdatedAt = time.Now().UTC()
	return t.tx.Save(th).Error
}

func (t *gormTx) PostByID(id int64) (*ForumPost, error) {
	var p ForumPost
	if err := t.tx.Where("id = ? AND deleted = ?", id, false).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (t *gormTx) ListPosts(threadID int64, offset, limit int) ([]ForumPost, error) {
	q := t.tx.Model(&ForumPost{}).
		Where("thread_id = ? AND deleted = ?", threadID, false).
		Order("created_at ASC, id ASC")
	q = applyWindow(q, offset, limit)
	var posts []ForumPost
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (t *gormTx) CountPosts(threadID int64) (int64, error) {
	var n int64
	err := t.tx.Model(&ForumPost{}).
		Where("thread_id = ? AND deleted = ?", threadID, false).
		Count(&n).Error
	return n, err
}

func (t *gormTx) CreatePost(p *ForumPost) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return t.tx.Create(p).Error
}

func (t *gormTx) UpdatePost(p *ForumPost) error {
	return t.tx.Save(p).Error
}

func (t *gormTx) CreatePostEdit(e *ForumPostEdit) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return t.tx.Create(e).Error
}

func (t *gormTx) ListPostEdits(postID int64) ([]ForumPostEdit, error) {
	var edits []ForumPostEdit
	err := t.tx.Model(&ForumPostEdit{}).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&edits).Error
	if err != nil {
		return nil, err
	}
	return edits, nil
}

func (t *gormTx) LastRead(threadID, userID int64) (*ForumLastRead, error) {
	var lr ForumLastRead
	if err := t.tx.Where("thread_id = ? AND user_id = ?", threadID, userID).First(&lr).Error; err != nil {
		return nil, notFound(err)
	}
	return &lr, nil
}

func (t *gormTx) SetLastRead(threadID, userID int64, at time.Time) error {
	var lr ForumLastRead
	err := t.tx.Where("thread_id = ? AND user_id = ?", threadID, userID).First(&lr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return t.tx.Create(&ForumLastRead{ThreadID: threadID, UserID: userID, CreatedAt: at}).Error
	}
	if err != nil {
		return err
	}
	lr.CreatedAt = at
	return t.tx.Save(&lr).Error
}

func applyWindow(q *gorm.DB, offset, limit int) *gorm.DB {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
