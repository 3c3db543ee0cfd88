package handlers_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-net/guildhall/pkg/session"
)

func TestGetUsersExposesUsernames(t *testing.T) {
	e := newEnv(t)
	admin := seedUser(t, e, "keeper", "hunter2hunter2", session.LevelAdmin)
	member := seedUser(t, e, "member", "hunter2hunter2", session.LevelUser)
	seedSession(t, e, admin.ID, "admin-key")

	require.NoError(t, e.invoke("admin-key", "admin.users.get_users", 1, map[string]any{}))

	payload := data(t, e.lastResponse())
	assert.Equal(t, float64(2), payload["users_count"])
	users, ok := payload["users"].(map[string]any)
	require.True(t, ok)

	entry, ok := users[strconv.FormatInt(member.ID, 10)].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "member", entry["username"])
}

func TestGetUsersRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	user := seedUser(t, e, "member", "hunter2hunter2", session.LevelUser)
	seedSession(t, e, user.ID, "user-key")

	require.NoError(t, e.invoke("user-key", "admin.users.get_users", 1, map[string]any{}))

	assert.Equal(t, 403, errorCode(t, e.lastResponse()))
}

func TestUpdateUserLevel(t *testing.T) {
	e := newEnv(t)
	admin := seedUser(t, e, "keeper", "hunter2hunter2", session.LevelAdmin)
	member := seedUser(t, e, "member", "hunter2hunter2", session.LevelUser)
	seedSession(t, e, admin.ID, "admin-key")

	require.NoError(t, e.invoke("admin-key", "admin.users.update_user", 1, map[string]any{
		"user":  float64(member.ID),
		"level": float64(session.LevelAdmin),
	}))

	promoted, ok := e.mem.User(member.ID)
	require.True(t, ok)
	assert.Equal(t, session.LevelAdmin, promoted.Level)
}

func TestDeleteUser(t *testing.T) {
	e := newEnv(t)
	admin := seedUser(t, e, "keeper", "hunter2hunter2", session.LevelAdmin)
	member := seedUser(t, e, "member", "hunter2hunter2", session.LevelUser)
	seedSession(t, e, admin.ID, "admin-key")

	require.NoError(t, e.invoke("admin-key", "admin.users.delete_user", 1, map[string]any{
		"user": float64(member.ID),
	}))

	gone, ok := e.mem.User(member.ID)
	require.True(t, ok)
	assert.True(t, gone.Deleted)

	// Deleted users disappear from the default listing but not the full one.
	require.NoError(t, e.invoke("admin-key", "admin.users.get_users", 2, map[string]any{}))
	assert.Equal(t, float64(1), data(t, e.lastResponse())["users_count"])

	require.NoError(t, e.invoke("admin-key", "admin.users.get_users", 3, map[string]any{
		"include_deleted": true,
	}))
	assert.Equal(t, float64(2), data(t, e.lastResponse())["users_count"])
}

func TestDeleteUserUnknown(t *testing.T) {
	e := newEnv(t)
	admin := seedUser(t, e, "keeper", "hunter2hunter2", session.LevelAdmin)
	seedSession(t, e, admin.ID, "admin-key")

	require.NoError(t, e.invoke("admin-key", "admin.users.delete_user", 1, map[string]any{
		"user": float64(777),
	}))

	assert.Equal(t, 404, errorCode(t, e.lastResponse()))
}
