package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/schema"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
)

var getBoardsSchema = schema.Schema{
	"section": {Kind: schema.Int},
}

var getThreadsSchema = schema.Schema{
	"board": {Kind: schema.Int, Required: true},
	"start": {Kind: schema.Int},
	"count": {Kind: schema.Int},
}

var getPostsSchema = schema.Schema{
	"thread": {Kind: schema.Int, Required: true},
	"start":  {Kind: schema.Int},
	"count":  {Kind: schema.Int},
}

var getPostSchema = schema.Schema{
	"post": {Kind: schema.Int, Required: true},
}

var insertThreadSchema = schema.Schema{
	"board":   {Kind: schema.Int, Required: true},
	"title":   {Kind: schema.String, Required: true, MinLen: 4, MaxLen: 64},
	"message": {Kind: schema.String, Required: true},
	"sticky":  {Kind: schema.Bool, Required: true},
	"closed":  {Kind: schema.Bool, Required: true},
}

var updateThreadSchema = schema.Schema{
	"thread": {Kind: schema.Int, Required: true},
	"title":  {Kind: schema.String, MinLen: 4, MaxLen: 64},
	"sticky": {Kind: schema.Bool},
	"closed": {Kind: schema.Bool},
}

var insertPostSchema = schema.Schema{
	"thread":  {Kind: schema.Int, Required: true},
	"message": {Kind: schema.String, Required: true},
}

var updatePostSchema = schema.Schema{
	"post":         {Kind: schema.Int, Required: true},
	"message":      {Kind: schema.String, Required: true},
	"edit_message": {Kind: schema.String},
}

var deleteThreadSchema = schema.Schema{
	"thread": {Kind: schema.Int, Required: true},
}

var deletePostSchema = schema.Schema{
	"post": {Kind: schema.Int, Required: true},
}

var insertSectionSchema = schema.Schema{
	"title":      {Kind: schema.String, Required: true, MinLen: 1, MaxLen: 64},
	"sort_index": {Kind: schema.Int},
}

var updateSectionSchema = schema.Schema{
	"section":    {Kind: schema.Int, Required: true},
	"title":      {Kind: schema.String, MinLen: 1, MaxLen: 64},
	"sort_index": {Kind: schema.Int},
}

var deleteSectionSchema = schema.Schema{
	"section": {Kind: schema.Int, Required: true},
}

var insertBoardSchema = schema.Schema{
	"section":     {Kind: schema.Int, Required: true},
	"title":       {Kind: schema.String, Required: true, MinLen: 1, MaxLen: 64},
	"description": {Kind: schema.String},
	"req_level":   {Kind: schema.Int, Min: schema.Bound(0)},
	"sort_index":  {Kind: schema.Int},
}

var updateBoardSchema = schema.Schema{
	"board":       {Kind: schema.Int, Required: true},
	"section":     {Kind: schema.Int},
	"title":       {Kind: schema.String, MinLen: 1, MaxLen: 64},
	"description": {Kind: schema.String},
	"req_level":   {Kind: schema.Int, Min: schema.Bound(0)},
	"sort_index":  {Kind: schema.Int},
}

var deleteBoardSchema = schema.Schema{
	"board": {Kind: schema.Int, Required: true},
}

// ForumHandler serves the forum.* routes: section/board/thread/post reads,
// authenticated writes, and admin management operations.
//
// Read-path level gating deliberately answers "not found" rather than
// "forbidden", so restricted boards are indistinguishable from missing ones.
// Admin operations answer 403 through the level guard.
type ForumHandler struct {
	c *Context
}

// NewForum constructs the forum handler for one request.
func NewForum(c *Context) Handler {
	return &ForumHandler{c: c}
}

func (h *ForumHandler) Routes() dispatch.Table {
	c := h.c
	admin := func(s schema.Schema, op dispatch.Operation) dispatch.Node {
		return dispatch.Op(c.RequireLevel(session.LevelAdmin, c.WithSchema(s, op)))
	}
	return dispatch.Table{
		"get_sections":        dispatch.Op(h.getSections),
		"get_boards":          dispatch.Op(c.WithSchema(getBoardsSchema, h.getBoards)),
		"get_combined_boards": dispatch.Op(h.getCombinedBoards),
		"get_threads":         dispatch.Op(c.WithSchema(getThreadsSchema, h.getThreads)),
		"get_posts":           dispatch.Op(c.WithSchema(getPostsSchema, h.getPosts)),
		"get_post":            dispatch.Op(c.WithSchema(getPostSchema, h.getPost)),
		"insert_thread":       dispatch.Op(c.RequireAuth(c.WithSchema(insertThreadSchema, h.insertThread))),
		"update_thread":       dispatch.Op(c.RequireAuth(c.WithSchema(updateThreadSchema, h.updateThread))),
		"insert_post":         dispatch.Op(c.RequireAuth(c.WithSchema(insertPostSchema, h.insertPost))),
		"update_post":         dispatch.Op(c.RequireAuth(c.WithSchema(updatePostSchema, h.updatePost))),
		"delete_thread":       admin(deleteThreadSchema, h.deleteThread),
		"delete_post":         admin(deletePostSchema, h.deletePost),
		"insert_section":      admin(insertSectionSchema, h.insertSection),
		"update_section":      admin(updateSectionSchema, h.updateSection),
		"delete_section":      admin(deleteSectionSchema, h.deleteSection),
		"insert_board":        admin(insertBoardSchema, h.insertBoard),
		"update_board":        admin(updateBoardSchema, h.updateBoard),
		"delete_board":        admin(deleteBoardSchema, h.deleteBoard),
	}
}

func (h *ForumHandler) getSections(_ []string, _ *envelope.Inbound) error {
	sections, err := h.c.Tx.ListVisibleSections(h.c.Session.Level())
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(sections))
	for i := range sections {
		out = append(out, sections[i].Public())
	}
	return h.c.SendMessage(map[string]any{"sections": out})
}

func (h *ForumHandler) getBoards(_ []string, req *envelope.Inbound) error {
	sectionID, _ := schema.Values(req.Data).OptInt("section")
	boards, err := h.c.Tx.ListBoards(sectionID, h.c.Session.Level())
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(boards))
	for i := range boards {
		out = append(out, boards[i].Public())
	}
	return h.c.SendMessage(map[string]any{"boards": out})
}

func (h *ForumHandler) getCombinedBoards(_ []string, _ *envelope.Inbound) error {
	level := h.c.Session.Level()
	sections, err := h.c.Tx.ListVisibleSections(level)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(sections))
	for i := range sections {
		entry := sections[i].Public()
		boards, err := h.c.Tx.ListBoards(sections[i].ID, level)
		if err != nil {
			return err
		}
		boardList := make([]map[string]any, 0, len(boards))
		for j := range boards {
			boardList = append(boardList, boards[j].Public())
		}
		entry["boards"] = boardList
		out = append(out, entry)
	}
	return h.c.SendMessage(map[string]any{"sections": out})
}

func (h *ForumHandler) getThreads(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	boardID := data.Int("board")
	start, _ := data.OptInt("start")
	count, _ := data.OptInt("count")

	board, err := h.readableBoard(boardID)
	if err != nil {
		return err
	}
	if board == nil {
		return h.c.SendError(404, "Board not found")
	}

	total, err := h.c.Tx.CountThreads(boardID)
	if err != nil {
		return err
	}
	threads, err := h.c.Tx.ListThreads(boardID, int(start), int(count))
	if err != nil {
		return err
	}

	users := map[string]any{}
	threadList := make([]map[string]any, 0, len(threads))
	for i := range threads {
		entry := threads[i].Public()
		if err := h.collectUser(users, threads[i].UserID); err != nil {
			return err
		}
		entry["last_read"] = nil
		if user := h.c.Session.User(); user != nil {
			lastRead, err := h.c.Tx.LastRead(threads[i].ID, user.ID)
			if err == nil {
				entry["last_read"] = lastRead.CreatedAt
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		threadList = append(threadList, entry)
	}

	return h.c.SendMessage(map[string]any{
		"board":         board.Public(),
		"threads_count": total,
		"threads":       threadList,
		"users":         users,
	})
}

func (h *ForumHandler) getPosts(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	threadID := data.Int("thread")
	start, _ := data.OptInt("start")
	count, _ := data.OptInt("count")

	thread, board, err := h.readableThread(threadID)
	if err != nil {
		return err
	}
	if thread == nil {
		return h.c.SendError(404, "Thread not found")
	}

	total, err := h.c.Tx.CountPosts(threadID)
	if err != nil {
		return err
	}
	posts, err := h.c.Tx.ListPosts(threadID, int(start), int(count))
	if err != nil {
		return err
	}

	users := map[string]any{}
	postList := make([]map[string]any, 0, len(posts))
	for i := range posts {
		entry, err := h.postWithEdits(&posts[i], users)
		if err != nil {
			return err
		}
		postList = append(postList, entry)
	}

	if user := h.c.Session.User(); user != nil {
		if err := h.c.Tx.SetLastRead(threadID, user.ID, time.Now().UTC()); err != nil {
			return err
		}
	}

	return h.c.SendMessage(map[string]any{
		"board":       board.Public(),
		"thread":      thread.Public(),
		"posts_count": total,
		"posts":       postList,
		"users":       users,
	})
}

func (h *ForumHandler) getPost(_ []string, req *envelope.Inbound) error {
	postID := schema.Values(req.Data).Int("post")

	post, err := h.c.Tx.PostByID(postID)
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Post not found")
	}
	if err != nil {
		return err
	}

	thread, board, err := h.readableThread(post.ThreadID)
	if err != nil {
		return err
	}
	if thread == nil {
		return h.c.SendError(404, "Post not found")
	}

	users := map[string]any{}
	entry, err := h.postWithEdits(post, users)
	if err != nil {
		return err
	}

	return h.c.SendMessage(map[string]any{
		"board":  board.Public(),
		"thread": thread.Public(),
		"post":   entry,
		"users":  users,
	})
}

func (h *ForumHandler) insertThread(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	user := h.c.Session.User()

	board, err := h.readableBoard(data.Int("board"))
	if err != nil {
		return err
	}
	if board == nil {
		return h.c.SendError(404, "Board not found")
	}

	thread := &store.ForumThread{
		BoardID: board.ID,
		UserID:  user.ID,
		Title:   data.Str("title"),
		Sticky:  data.Bool("sticky"),
		Closed:  data.Bool("closed"),
	}
	if err := h.c.Tx.CreateThread(thread); err != nil {
		return err
	}
	post := &store.ForumPost{
		ThreadID: thread.ID,
		UserID:   user.ID,
		Message:  data.Str("message"),
	}
	if err := h.c.Tx.CreatePost(post); err != nil {
		return err
	}

	payload := map[string]any{
		"thread": thread.Public(),
		"post":   post.Public(),
		"user":   user.Public(false),
	}
	if err := h.c.SendMessage(payload); err != nil {
		return err
	}
	return h.c.Broadcast(payload, true, board.ReqLevel)
}

func (h *ForumHandler) updateThread(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	user := h.c.Session.User()

	thread, err := h.c.Tx.ThreadByID(data.Int("thread"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Thread not found")
	}
	if err != nil {
		return err
	}
	if thread.UserID != user.ID && !h.c.Session.HasLevel(session.LevelAdmin) {
		return h.c.SendError(404, "Thread not found")
	}
	board, err := h.readableBoard(thread.BoardID)
	if err != nil {
		return err
	}
	if board == nil {
		return h.c.SendError(404, "Thread not found")
	}

	if title, ok := data.OptStr("title"); ok {
		thread.Title = title
	}
	if sticky, ok := data.OptBool("sticky"); ok {
		thread.Sticky = sticky
	}
	if closed, ok := data.OptBool("closed"); ok {
		thread.Closed = closed
	}
	if err := h.c.Tx.UpdateThread(thread); err != nil {
		return err
	}

	return h.c.SendMessage(map[string]any{
		"thread": thread.Public(),
		"user":   user.Public(false),
	})
}

func (h *ForumHandler) insertPost(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	user := h.c.Session.User()

	thread, board, err := h.readableThread(data.Int("thread"))
	if err != nil {
		return err
	}
	if thread == nil {
		return h.c.SendError(404, "Thread not found")
	}

	post := &store.ForumPost{
		ThreadID: thread.ID,
		UserID:   user.ID,
		Message:  data.Str("message"),
	}
	if err := h.c.Tx.CreatePost(post); err != nil {
		return err
	}
	if err := h.c.Tx.UpdateThread(thread); err != nil {
		return err
	}

	payload := map[string]any{
		"thread": thread.Public(),
		"post":   post.Public(),
		"user":   user.Public(false),
	}
	if err := h.c.SendMessage(payload); err != nil {
		return err
	}
	return h.c.Broadcast(payload, true, board.ReqLevel)
}

func (h *ForumHandler) updatePost(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	user := h.c.Session.User()

	post, err := h.c.Tx.PostByID(data.Int("post"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Post not found")
	}
	if err != nil {
		return err
	}
	if post.UserID != user.ID && !h.c.Session.HasLevel(session.LevelAdmin) {
		return h.c.SendError(404, "Post not found")
	}

	thread, _, err := h.readableThread(post.ThreadID)
	if err != nil {
		return err
	}
	if thread == nil {
		return h.c.SendError(404, "Post not found")
	}

	post.Message = data.Str("message")
	if err := h.c.Tx.UpdatePost(post); err != nil {
		return err
	}

	payload := map[string]any{
		"thread": thread.Public(),
		"post":   post.Public(),
		"user":   user.Public(false),
	}
	if editMessage, ok := data.OptStr("edit_message"); ok {
		edit := &store.ForumPostEdit{
			PostID:  post.ID,
			UserID:  user.ID,
			Message: editMessage,
		}
		if err := h.c.Tx.CreatePostEdit(edit); err != nil {
			return err
		}
		payload["edit"] = edit.Public()
	}
	return h.c.SendMessage(payload)
}

func (h *ForumHandler) deleteThread(_ []string, req *envelope.Inbound) error {
	thread, err := h.c.Tx.ThreadByID(schema.Values(req.Data).Int("thread"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Thread not found")
	}
	if err != nil {
		return err
	}
	thread.Deleted = true
	if err := h.c.Tx.UpdateThread(thread); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{})
}

func (h *ForumHandler) deletePost(_ []string, req *envelope.Inbound) error {
	post, err := h.c.Tx.PostByID(schema.Values(req.Data).Int("post"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Post not found")
	}
	if err != nil {
		return err
	}
	post.Deleted = true
	if err := h.c.Tx.UpdatePost(post); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{})
}

func (h *ForumHandler) insertSection(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	sortIndex, _ := data.OptInt("sort_index")
	section := &store.ForumSection{
		Title:     data.Str("title"),
		SortIndex: int(sortIndex),
	}
	if err := h.c.Tx.CreateSection(section); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"section": section.Public()})
}

func (h *ForumHandler) updateSection(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	section, err := h.c.Tx.SectionByID(data.Int("section"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Section not found")
	}
	if err != nil {
		return err
	}
	if title, ok := data.OptStr("title"); ok {
		section.Title = title
	}
	if sortIndex, ok := data.OptInt("sort_index"); ok {
		section.SortIndex = int(sortIndex)
	}
	if err := h.c.Tx.UpdateSection(section); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"section": section.Public()})
}

func (h *ForumHandler) deleteSection(_ []string, req *envelope.Inbound) error {
	section, err := h.c.Tx.SectionByID(schema.Values(req.Data).Int("section"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Section not found")
	}
	if err != nil {
		return err
	}
	section.Deleted = true
	if err := h.c.Tx.UpdateSection(section); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{})
}

func (h *ForumHandler) insertBoard(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	section, err := h.c.Tx.SectionByID(data.Int("section"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Section not found")
	}
	if err != nil {
		return err
	}

	reqLevel, _ := data.OptInt("req_level")
	sortIndex, _ := data.OptInt("sort_index")
	board := &store.ForumBoard{
		SectionID:   section.ID,
		Title:       data.Str("title"),
		Description: data.Str("description"),
		ReqLevel:    int(reqLevel),
		SortIndex:   int(sortIndex),
	}
	if err := h.c.Tx.CreateBoard(board); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"board": board.Public()})
}

func (h *ForumHandler) updateBoard(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	board, err := h.c.Tx.BoardByID(data.Int("board"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Board not found")
	}
	if err != nil {
		return err
	}
	if sectionID, ok := data.OptInt("section"); ok {
		board.SectionID = sectionID
	}
	if title, ok := data.OptStr("title"); ok {
		board.Title = title
	}
	if description, ok := data.OptStr("description"); ok {
		board.Description = description
	}
	if reqLevel, ok := data.OptInt("req_level"); ok {
		board.ReqLevel = int(reqLevel)
	}
	if sortIndex, ok := data.OptInt("sort_index"); ok {
		board.SortIndex = int(sortIndex)
	}
	if err := h.c.Tx.UpdateBoard(board); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"board": board.Public()})
}

func (h *ForumHandler) deleteBoard(_ []string, req *envelope.Inbound) error {
	board, err := h.c.Tx.BoardByID(schema.Values(req.Data).Int("board"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "Board not found")
	}
	if err != nil {
		return err
	}
	board.Deleted = true
	if err := h.c.Tx.UpdateBoard(board); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{})
}

// readableBoard returns the board when it exists and the session's level
// clears its gate, nil otherwise. Restricted and missing boards are
// indistinguishable to the caller.
func (h *ForumHandler) readableBoard(boardID int64) (*store.ForumBoard, error) {
	board, err := h.c.Tx.BoardByID(boardID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if board.ReqLevel > h.c.Session.Level() {
		return nil, nil
	}
	return board, nil
}

// readableThread resolves a thread and its readable board together. A nil
// thread means not found or not readable.
func (h *ForumHandler) readableThread(threadID int64) (*store.ForumThread, *store.ForumBoard, error) {
	thread, err := h.c.Tx.ThreadByID(threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	board, err := h.readableBoard(thread.BoardID)
	if err != nil {
		return nil, nil, err
	}
	if board == nil {
		return nil, nil, nil
	}
	return thread, board, nil
}

// postWithEdits serializes a post with its edit history, collecting every
// referenced user into users.
func (h *ForumHandler) postWithEdits(post *store.ForumPost, users map[string]any) (map[string]any, error) {
	if err := h.collectUser(users, post.UserID); err != nil {
		return nil, err
	}
	entry := post.Public()
	edits, err := h.c.Tx.ListPostEdits(post.ID)
	if err != nil {
		return nil, err
	}
	editList := make([]map[string]any, 0, len(edits))
	for i := range edits {
		if err := h.collectUser(users, edits[i].UserID); err != nil {
			return nil, err
		}
		editList = append(editList, edits[i].Public())
	}
	entry["edits"] = editList
	return entry, nil
}

// collectUser adds a user's public shape to the response user map once.
// Users deleted since writing remain absent rather than failing the read.
func (h *ForumHandler) collectUser(users map[string]any, userID int64) error {
	key := strconv.FormatInt(userID, 10)
	if _, ok := users[key]; ok {
		return nil
	}
	user, err := h.c.Tx.UserByID(userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	users[key] = user.Public(false)
	return nil
}
