// Package storetest provides an in-memory store.Store for tests. A Begin
// snapshots the committed state; Commit publishes the snapshot back and
// Rollback discards it, giving real all-or-nothing semantics without a
// database.
package storetest

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/guildhall-net/guildhall/pkg/store"
)

// Memory is an in-memory store.Store.
type Memory struct {
	mu    sync.Mutex
	state *state

	// FailCommit makes the next Commit fail, for fault-path tests.
	FailCommit bool
}

type state struct {
	users     map[int64]store.User
	sessions  map[int64]store.Session
	legacy    map[int64]store.LegacyCredential
	news      map[int64]store.NewsItem
	sections  map[int64]store.ForumSection
	boards    map[int64]store.ForumBoard
	threads   map[int64]store.ForumThread
	posts     map[int64]store.ForumPost
	edits     map[int64]store.ForumPostEdit
	lastReads map[int64]store.ForumLastRead
	nextID    int64
}

func newState() *state {
	return &state{
		users:     map[int64]store.User{},
		sessions:  map[int64]store.Session{},
		legacy:    map[int64]store.LegacyCredential{},
		news:      map[int64]store.NewsItem{},
		sections:  map[int64]store.ForumSection{},
		boards:    map[int64]store.ForumBoard{},
		threads:   map[int64]store.ForumThread{},
		posts:     map[int64]store.ForumPost{},
		edits:     map[int64]store.ForumPostEdit{},
		lastReads: map[int64]store.ForumLastRead{},
		nextID:    1,
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.legacy {
		c.legacy[k] = v
	}
	for k, v := range s.news {
		c.news[k] = v
	}
	for k, v := range s.sections {
		c.sections[k] = v
	}
	for k, v := range s.boards {
		c.boards[k] = v
	}
	for k, v := range s.threads {
		c.threads[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	for k, v := range s.edits {
		c.edits[k] = v
	}
	for k, v := range s.lastReads {
		c.lastReads[k] = v
	}
	return c
}

func (s *state) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newState()}
}

var _ store.Store = (*Memory)(nil)

// Begin opens a transaction over a snapshot of the committed state.
func (m *Memory) Begin() (store.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Tx{mem: m, s: m.state.clone()}, nil
}

// Seed helpers write directly into committed state and assign ids.

func (m *Memory) SeedUser(u *store.User) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.state.id()
	}
	m.state.users[u.ID] = *u
	return u
}

func (m *Memory) SeedSession(s *store.Session) *store.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.state.id()
	}
	m.state.sessions[s.ID] = *s
	return s
}

func (m *Memory) SeedLegacyCredential(lc *store.LegacyCredential) *store.LegacyCredential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lc.ID == 0 {
		lc.ID = m.state.id()
	}
	m.state.legacy[lc.ID] = *lc
	return lc
}

func (m *Memory) SeedSection(s *store.ForumSection) *store.ForumSection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.state.id()
	}
	m.state.sections[s.ID] = *s
	return s
}

func (m *Memory) SeedBoard(b *store.ForumBoard) *store.ForumBoard {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.state.id()
	}
	m.state.boards[b.ID] = *b
	return b
}

func (m *Memory) SeedThread(t *store.ForumThread) *store.ForumThread {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.state.id()
	}
	m.state.threads[t.ID] = *t
	return t
}

func (m *Memory) SeedPost(p *store.ForumPost) *store.ForumPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.state.id()
	}
	m.state.posts[p.ID] = *p
	return p
}

func (m *Memory) SeedNewsItem(n *store.NewsItem) *store.NewsItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == 0 {
		n.ID = m.state.id()
	}
	m.state.news[n.ID] = *n
	return n
}

// Committed-state accessors for assertions.

func (m *Memory) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.sessions)
}

func (m *Memory) SessionByKey(key string) (*store.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.state.sessions {
		if s.SessionKey == key {
			out := s
			return &out, true
		}
	}
	return nil, false
}

func (m *Memory) PostCount(threadID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.state.posts {
		if p.ThreadID == threadID && !p.Deleted {
			n++
		}
	}
	return n
}

func (m *Memory) ThreadCount(boardID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.state.threads {
		if t.BoardID == boardID && !t.Deleted {
			n++
		}
	}
	return n
}

func (m *Memory) User(id int64) (*store.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[id]
	if !ok {
		return nil, false
	}
	out := u
	return &out, true
}

func (m *Memory) LegacyCredentialExists(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lc := range m.state.legacy {
		if lc.Username == username {
			return true
		}
	}
	return false
}

// Tx is a snapshot transaction over a Memory store.
type Tx struct {
	mem  *Memory
	s    *state
	done bool
}

var _ store.Tx = (*Tx)(nil)

func (t *Tx) Commit() error {
	if t.done {
		return errors.New("storetest: transaction finished")
	}
	t.done = true
	t.mem.mu.Lock()
	defer t.mem.mu.Unlock()
	if t.mem.FailCommit {
		t.mem.FailCommit = false
		return errors.New("storetest: injected commit failure")
	}
	t.mem.state = t.s
	return nil
}

func (t *Tx) Rollback() error {
	t.done = true
	return nil
}

func (t *Tx) Close() {
	t.done = true
}

func (t *Tx) UserByID(id int64) (*store.User, error) {
	u, ok := t.s.users[id]
	if !ok || u.Deleted {
		return nil, store.ErrNotFound
	}
	out := u
	return &out, nil
}

func (t *Tx) UserByUsername(username string) (*store.User, error) {
	for _, u := range t.s.users {
		if u.Username == username && !u.Deleted {
			out := u
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *Tx) CreateUser(u *store.User) error {
	u.ID = t.s.id()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	t.s.users[u.ID] = *u
	return nil
}

func (t *Tx) UpdateUser(u *store.User) error {
	t.s.users[u.ID] = *u
	return nil
}

func (t *Tx) ListUsers(includeDeleted bool, offset, limit int) ([]store.User, error) {
	var users []store.User
	for _, u := range t.s.users {
		if includeDeleted || !u.Deleted {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return window(users, offset, limit), nil
}

func (t *Tx) CountUsers(includeDeleted bool) (int64, error) {
	var n int64
	for _, u := range t.s.users {
		if includeDeleted || !u.Deleted {
			n++
		}
	}
	return n, nil
}

func (t *Tx) SessionByKey(key string) (*store.Session, error) {
	for _, s := range t.s.sessions {
		if s.SessionKey == key {
			out := s
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *Tx) CreateSession(s *store.Session) error {
	s.ID = t.s.id()
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.ActivityAt.IsZero() {
		s.ActivityAt = now
	}
	t.s.sessions[s.ID] = *s
	return nil
}

func (t *Tx) DeleteSessionByID(id int64) error {
	delete(t.s.sessions, id)
	return nil
}

func (t *Tx) DeleteSessionByKey(key string) error {
	for id, s := range t.s.sessions {
		if s.SessionKey == key {
			delete(t.s.sessions, id)
		}
	}
	return nil
}

func (t *Tx) TouchSession(id int64, at time.Time) error {
	s, ok := t.s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.ActivityAt = at
	t.s.sessions[id] = s
	return nil
}

func (t *Tx) LegacyCredentialByUsername(username string) (*store.LegacyCredential, error) {
	for _, lc := range t.s.legacy {
		if lc.Username == username {
			out := lc
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *Tx) DeleteLegacyCredential(id int64) error {
	delete(t.s.legacy, id)
	return nil
}

func (t *Tx) NewsItemByID(id int64) (*store.NewsItem, error) {
	n, ok := t.s.news[id]
	if !ok || n.Deleted {
		return nil, store.ErrNotFound
	}
	out := n
	return &out, nil
}

func (t *Tx) ListNewsItems(offset, limit int) ([]store.NewsItem, error) {
	var items []store.NewsItem
	for _, n := range t.s.news {
		if !n.Deleted {
			items = append(items, n)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return window(items, offset, limit), nil
}

func (t *Tx) CountNewsItems() (int64, error) {
	var n int64
	for _, item := range t.s.news {
		if !item.Deleted {
			n++
		}
	}
	return n, nil
}

func (t *Tx) CreateNewsItem(n *store.NewsItem) error {
	n.ID = t.s.id()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	t.s.news[n.ID] = *n
	return nil
}

func (t *Tx) UpdateNewsItem(n *store.NewsItem) error {
	t.s.news[n.ID] = *n
	return nil
}

func (t *Tx) SectionByID(id int64) (*store.ForumSection, error) {
	s, ok := t.s.sections[id]
	if !ok || s.Deleted {
		return nil, store.ErrNotFound
	}
	out := s
	return &out, nil
}

func (t *Tx) ListVisibleSections(level int) ([]store.ForumSection, error) {
	var sections []store.ForumSection
	for _, s := range t.s.sections {
		if s.Deleted {
			continue
		}
		for _, b := range t.s.boards {
			if b.SectionID == s.ID && !b.Deleted && b.ReqLevel <= level {
				sections = append(sections, s)
				break
			}
		}
	}
	sortSections(sections)
	return sections, nil
}

func (t *Tx) CreateSection(s *store.ForumSection) error {
	s.ID = t.s.id()
	t.s.sections[s.ID] = *s
	return nil
}

func (t *Tx) UpdateSection(s *store.ForumSection) error {
	t.s.sections[s.ID] = *s
	return nil
}

func (t *Tx) BoardByID(id int64) (*store.ForumBoard, error) {
	b, ok := t.s.boards[id]
	if !ok || b.Deleted {
		return nil, store.ErrNotFound
	}
	out := b
	return &out, nil
}

func (t *Tx) ListBoards(sectionID int64, maxLevel int) ([]store.ForumBoard, error) {
	var boards []store.ForumBoard
	for _, b := range t.s.boards {
		if b.Deleted || b.ReqLevel > maxLevel {
			continue
		}
		if sectionID > 0 && b.SectionID != sectionID {
			continue
		}
		boards = append(boards, b)
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].SortIndex != boards[j].SortIndex {
			return boards[i].SortIndex < boards[j].SortIndex
		}
		return boards[i].ID < boards[j].ID
	})
	return boards, nil
}

func (t *Tx) CreateBoard(b *store.ForumBoard) error {
	b.ID = t.s.id()
	t.s.boards[b.ID] = *b
	return nil
}

func (t *Tx) UpdateBoard(b *store.ForumBoard) error {
	t.s.boards[b.ID] = *b
	return nil
}

func (t *Tx) ThreadByID(id int64) (*store.ForumThread, error) {
	th, ok := t.s.threads[id]
	if !ok || th.Deleted {
		return nil, store.ErrNotFound
	}
	out := th
	return &out, nil
}

func (t *Tx) ListThreads(boardID int64, offset, limit int) ([]store.ForumThread, error) {
	var threads []store.ForumThread
	for _, th := range t.s.threads {
		if th.BoardID == boardID && !th.Deleted {
			threads = append(threads, th)
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Sticky != threads[j].Sticky {
			return threads[i].Sticky
		}
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return window(threads, offset, limit), nil
}

func (t *Tx) CountThreads(boardID int64) (int64, error) {
	var n int64
	for _, th := range t.s.threads {
		if th.BoardID == boardID && !th.Deleted {
			n++
		}
	}
	return n, nil
}

func (t *Tx) CreateThread(th *store.ForumThread) error {
	th.ID = t.s.id()
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	th.UpdatedAt = now
	t.s.threads[th.ID] = *th
	return nil
}

func (t *Tx) UpdateThread(th *store.ForumThread) error {
	th.UpdatedAt = time.Now().UTC()
	t.s.threads[th.ID] = *th
	return nil
}

func (t *Tx) PostByID(id int64) (*store.ForumPost, error) {
	p, ok := t.s.posts[id]
	if !ok || p.Deleted {
		return nil, store.ErrNotFound
	}
	out := p
	return &out, nil
}

func (t *Tx) ListPosts(threadID int64, offset, limit int) ([]store.ForumPost, error) {
	var posts []store.ForumPost
	for _, p := range t.s.posts {
		if p.ThreadID == threadID && !p.Deleted {
			posts = append(posts, p)
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.Before(posts[j].CreatedAt)
		}
		return posts[i].ID < posts[j].ID
	})
	return window(posts, offset, limit), nil
}

func (t *Tx) CountPosts(threadID int64) (int64, error) {
	var n int64
	for _, p := range t.s.posts {
		if p.ThreadID == threadID && !p.Deleted {
			n++
		}
	}
	return n, nil
}

func (t *Tx) CreatePost(p *store.ForumPost) error {
	p.ID = t.s.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	t.s.posts[p.ID] = *p
	return nil
}

func (t *Tx) UpdatePost(p *store.ForumPost) error {
	t.s.posts[p.ID] = *p
	return nil
}

func (t *Tx) CreatePostEdit(e *store.ForumPostEdit) error {
	e.ID = t.s.id()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.s.edits[e.ID] = *e
	return nil
}

func (t *Tx) ListPostEdits(postID int64) ([]store.ForumPostEdit, error) {
	var edits []store.ForumPostEdit
	for _, e := range t.s.edits {
		if e.PostID == postID {
			edits = append(edits, e)
		}
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].ID < edits[j].ID })
	return edits, nil
}

func (t *Tx) LastRead(threadID, userID int64) (*store.ForumLastRead, error) {
	for _, lr := range t.s.lastReads {
		if lr.ThreadID == threadID && lr.UserID == userID {
			out := lr
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *Tx) SetLastRead(threadID, userID int64, at time.Time) error {
	for id, lr := range t.s.lastReads {
		if lr.ThreadID == threadID && lr.UserID == userID {
			lr.CreatedAt = at
			t.s.lastReads[id] = lr
			return nil
		}
	}
	id := t.s.id()
	t.s.lastReads[id] = store.ForumLastRead{ID: id, ThreadID: threadID, UserID: userID, CreatedAt: at}
	return nil
}

func sortSections(sections []store.ForumSection) {
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].SortIndex != sections[j].SortIndex {
			return sections[i].SortIndex < sections[j].SortIndex
		}
		return sections[i].ID < sections[j].ID
	})
}

func window[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
