package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/guildhall-net/guildhall/pkg/store"
	"github.com/guildhall-net/guildhall/pkg/store/storetest"
)

func TestResolveEmptyKeyIsAnonymous(t *testing.T) {
	mem := storetest.NewMemory()
	tx, err := mem.Begin()
	require.NoError(t, err)
	defer tx.Close()

	s, err := Resolve(tx, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, s.Valid())
	assert.Nil(t, s.User())
	assert.Equal(t, LevelGuest, s.Level())
}

func TestResolveUnknownKeyIsAnonymous(t *testing.T) {
	mem := storetest.NewMemory()
	tx, err := mem.Begin()
	require.NoError(t, err)
	defer tx.Close()

	s, err := Resolve(tx, "nope", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, s.Valid())
}

func TestResolveKnownKey(t *testing.T) {
	mem := storetest.NewMemory()
	user := mem.SeedUser(&store.User{Username: "ash", Level: LevelAdmin})
	mem.SeedSession(&store.Session{SessionKey: "key1", UserID: user.ID})

	tx, err := mem.Begin()
	require.NoError(t, err)
	defer tx.Close()

	s, err := Resolve(tx, "key1", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, s.Valid())
	assert.Equal(t, "key1", s.Key())
	assert.Equal(t, LevelAdmin, s.Level())
	assert.True(t, s.HasLevel(LevelUser))
	assert.True(t, s.HasLevel(LevelAdmin))
}

func TestResolveOrphanSelfHeals(t *testing.T) {
	mem := storetest.NewMemory()
	mem.SeedSession(&store.Session{SessionKey: "stale", UserID: 999})

	tx, err := mem.Begin()
	require.NoError(t, err)
	s, err := Resolve(tx, "stale", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, s.Valid())
	require.NoError(t, tx.Commit())

	// The stale record is gone; resolving again finds nothing to delete.
	assert.Equal(t, 0, mem.SessionCount())
	tx2, err := mem.Begin()
	require.NoError(t, err)
	defer tx2.Close()
	s2, err := Resolve(tx2, "stale", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, s2.Valid())
}

func TestInvalidate(t *testing.T) {
	mem := storetest.NewMemory()
	user := mem.SeedUser(&store.User{Username: "ash", Level: LevelUser})
	mem.SeedSession(&store.Session{SessionKey: "key1", UserID: user.ID})

	tx, err := mem.Begin()
	require.NoError(t, err)
	s, err := Resolve(tx, "key1", zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Invalidate())
	assert.False(t, s.Valid())
	assert.Equal(t, LevelGuest, s.Level())
	require.NoError(t, tx.Commit())

	assert.Equal(t, 0, mem.SessionCount())
}

func TestTouchUpdatesActivity(t *testing.T) {
	mem := storetest.NewMemory()
	user := mem.SeedUser(&store.User{Username: "ash", Level: LevelUser})
	stale := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.SeedSession(&store.Session{SessionKey: "key1", UserID: user.ID, ActivityAt: stale})

	tx, err := mem.Begin()
	require.NoError(t, err)
	s, err := Resolve(tx, "key1", zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Touch()
	require.NoError(t, tx.Commit())

	after, ok := mem.SessionByKey("key1")
	require.True(t, ok)
	assert.True(t, after.ActivityAt.After(stale))
}
