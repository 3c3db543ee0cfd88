package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
)

type forumFixture struct {
	user    *store.User
	admin   *store.User
	section *store.ForumSection
	board   *store.ForumBoard
	thread  *store.ForumThread
	post    *store.ForumPost
}

// seedForum builds one section/board/thread/post with a regular user and an
// admin. The board is readable by everyone unless reqLevel says otherwise.
func seedForum(t *testing.T, e *env, reqLevel int) *forumFixture {
	t.Helper()
	f := &forumFixture{}
	f.user = seedUser(t, e, "poster", "hunter2hunter2", session.LevelUser)
	f.admin = seedUser(t, e, "keeper", "hunter2hunter2", session.LevelAdmin)
	seedSession(t, e, f.user.ID, "user-key")
	seedSession(t, e, f.admin.ID, "admin-key")
	f.section = e.mem.SeedSection(&store.ForumSection{Title: "General"})
	f.board = e.mem.SeedBoard(&store.ForumBoard{SectionID: f.section.ID, Title: "Chat", ReqLevel: reqLevel})
	f.thread = e.mem.SeedThread(&store.ForumThread{BoardID: f.board.ID, UserID: f.user.ID, Title: "First thread"})
	f.post = e.mem.SeedPost(&store.ForumPost{ThreadID: f.thread.ID, UserID: f.user.ID, Message: "First post"})
	return f
}

func TestGetSectionsHidesFullyGatedSections(t *testing.T) {
	e := newEnv(t)
	seedForum(t, e, session.LevelUser)

	// Guest: the only board requires a user, so the section is invisible.
	require.NoError(t, e.invoke("", "forum.get_sections", 1, map[string]any{}))
	sections, ok := data(t, e.lastResponse())["sections"].([]any)
	require.True(t, ok)
	assert.Empty(t, sections)

	// Authenticated user sees it.
	require.NoError(t, e.invoke("user-key", "forum.get_sections", 2, map[string]any{}))
	sections, ok = data(t, e.lastResponse())["sections"].([]any)
	require.True(t, ok)
	assert.Len(t, sections, 1)
}

func TestGetBoardsFiltersByLevel(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)
	e.mem.SeedBoard(&store.ForumBoard{SectionID: f.section.ID, Title: "Staff room", ReqLevel: session.LevelAdmin})

	require.NoError(t, e.invoke("user-key", "forum.get_boards", 1, map[string]any{}))
	boards, ok := data(t, e.lastResponse())["boards"].([]any)
	require.True(t, ok)
	assert.Len(t, boards, 1)
}

func TestGetThreadsAnswersNotFoundForGatedBoard(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelUser)

	require.NoError(t, e.invoke("", "forum.get_threads", 1, map[string]any{
		"board": float64(f.board.ID),
	}))

	assert.Equal(t, 404, errorCode(t, e.lastResponse()))
}

func TestGetThreads(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("user-key", "forum.get_threads", 1, map[string]any{
		"board": float64(f.board.ID),
	}))

	payload := data(t, e.lastResponse())
	assert.Equal(t, float64(1), payload["threads_count"])
	threads, ok := payload["threads"].([]any)
	require.True(t, ok)
	require.Len(t, threads, 1)

	users, ok := payload["users"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, users, 1)
}

func TestGetPostsSetsLastRead(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("user-key", "forum.get_posts", 1, map[string]any{
		"thread": float64(f.thread.ID),
	}))

	payload := data(t, e.lastResponse())
	assert.Equal(t, float64(1), payload["posts_count"])

	tx, err := e.mem.Begin()
	require.NoError(t, err)
	defer tx.Close()
	lastRead, err := tx.LastRead(f.thread.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, lastRead.CreatedAt.IsZero())
}

func TestGetPostUnknown(t *testing.T) {
	e := newEnv(t)
	seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("", "forum.get_post", 1, map[string]any{
		"post": float64(9999),
	}))

	assert.Equal(t, 404, errorCode(t, e.lastResponse()))
}

func TestInsertThreadBroadcastsAtBoardLevel(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelUser)

	require.NoError(t, e.invoke("user-key", "forum.insert_thread", 1, map[string]any{
		"board":   float64(f.board.ID),
		"title":   "Fresh topic",
		"message": "Opening words",
		"sticky":  false,
		"closed":  false,
	}))

	assert.Equal(t, 2, e.mem.ThreadCount(f.board.ID))

	responses := e.responses()
	require.Len(t, responses, 2)
	assert.False(t, responses[0].Head.Broadcast)

	broadcast := responses[1]
	assert.True(t, broadcast.Head.Broadcast)
	assert.True(t, broadcast.Head.AvoidSelf)
	assert.Equal(t, session.LevelUser, broadcast.Head.ReqLevel)
}

func TestInsertPostRequiresAuth(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("", "forum.insert_post", 1, map[string]any{
		"thread":  float64(f.thread.ID),
		"message": "drive-by",
	}))

	assert.Equal(t, 403, errorCode(t, e.lastResponse()))
	assert.Equal(t, 1, e.mem.PostCount(f.thread.ID))
}

func TestInsertPostGatedBoardAnswersNotFound(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelAdmin)

	require.NoError(t, e.invoke("user-key", "forum.insert_post", 1, map[string]any{
		"thread":  float64(f.thread.ID),
		"message": "should not land",
	}))

	assert.Equal(t, 404, errorCode(t, e.lastResponse()))
	assert.Equal(t, 1, e.mem.PostCount(f.thread.ID))
}

func TestInsertPost(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("user-key", "forum.insert_post", 1, map[string]any{
		"thread":  float64(f.thread.ID),
		"message": "Second post",
	}))

	assert.Equal(t, 2, e.mem.PostCount(f.thread.ID))
	responses := e.responses()
	require.Len(t, responses, 2)
	assert.True(t, responses[1].Head.Broadcast)
}

func TestUpdatePostRecordsEdit(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("user-key", "forum.update_post", 1, map[string]any{
		"post":         float64(f.post.ID),
		"message":      "Reworded post",
		"edit_message": "fixed a typo",
	}))

	payload := data(t, e.lastResponse())
	post, ok := payload["post"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Reworded post", post["message"])
	edit, ok := payload["edit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fixed a typo", edit["message"])
}

func TestUpdatePostOwnedByAnotherUser(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)
	other := seedUser(t, e, "bystander", "hunter2hunter2", session.LevelUser)
	seedSession(t, e, other.ID, "other-key")

	require.NoError(t, e.invoke("other-key", "forum.update_post", 1, map[string]any{
		"post":    float64(f.post.ID),
		"message": "hijacked",
	}))

	assert.Equal(t, 404, errorCode(t, e.lastResponse()))
}

func TestDeletePostRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("user-key", "forum.delete_post", 1, map[string]any{
		"post": float64(f.post.ID),
	}))
	assert.Equal(t, 403, errorCode(t, e.lastResponse()))
	assert.Equal(t, 1, e.mem.PostCount(f.thread.ID))

	require.NoError(t, e.invoke("admin-key", "forum.delete_post", 2, map[string]any{
		"post": float64(f.post.ID),
	}))
	assert.False(t, e.lastResponse().Body.Error)
	assert.Equal(t, 0, e.mem.PostCount(f.thread.ID))
}

func TestDeleteThread(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("admin-key", "forum.delete_thread", 1, map[string]any{
		"thread": float64(f.thread.ID),
	}))

	assert.Equal(t, 0, e.mem.ThreadCount(f.board.ID))
}

func TestBoardManagement(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("admin-key", "forum.insert_board", 1, map[string]any{
		"section":   float64(f.section.ID),
		"title":     "Members only",
		"req_level": float64(session.LevelUser),
	}))
	created, ok := data(t, e.lastResponse())["board"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(session.LevelUser), created["req_level"])

	boardID := created["id"].(float64)
	require.NoError(t, e.invoke("admin-key", "forum.update_board", 2, map[string]any{
		"board": boardID,
		"title": "Members lounge",
	}))
	updated, ok := data(t, e.lastResponse())["board"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Members lounge", updated["title"])

	require.NoError(t, e.invoke("admin-key", "forum.delete_board", 3, map[string]any{
		"board": boardID,
	}))
	assert.False(t, e.lastResponse().Body.Error)
}

func TestInsertThreadValidation(t *testing.T) {
	e := newEnv(t)
	f := seedForum(t, e, session.LevelGuest)

	require.NoError(t, e.invoke("user-key", "forum.insert_thread", 1, map[string]any{
		"board": float64(f.board.ID),
		"title": "abc",
	}))

	reply := e.lastResponse()
	assert.Equal(t, 450, errorCode(t, reply))
	messages, ok := data(t, reply)["error_messages"].([]any)
	require.True(t, ok)
	// Short title plus three missing required fields.
	assert.Len(t, messages, 4)
}
