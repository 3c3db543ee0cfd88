package router

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
	"github.com/guildhall-net/guildhall/pkg/store/storetest"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

func newFrame(sessionKey, body string) *envelope.Frame {
	return &envelope.Frame{
		Head: envelope.Head{ConnectionID: "conn-1", SessionKey: sessionKey},
		Body: []byte(body),
	}
}

func decodeResponses(t *testing.T, mq *transport.Memory) []envelope.Response {
	t.Helper()
	var out []envelope.Response
	for _, raw := range mq.Published() {
		frame, err := envelope.DecodeFrame(raw)
		require.NoError(t, err)
		if frame.Head.IsControl {
			continue
		}
		var body envelope.Response
		require.NoError(t, json.Unmarshal(frame.Body, &body))
		out = append(out, body)
	}
	return out
}

func errCode(t *testing.T, resp envelope.Response) int {
	t.Helper()
	require.True(t, resp.Error)
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	code, ok := m["error_code"].(float64)
	require.True(t, ok)
	return int(code)
}

func seedAccount(t *testing.T, mem *storetest.Memory, username, password string, level int) *store.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return mem.SeedUser(&store.User{Username: username, Password: string(hashed), Nickname: username, Level: level})
}

func TestHandleLoginEndToEnd(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	seedAccount(t, mem, "ash", "hunter2hunter2", session.LevelUser)
	r := New(mem, mq, zaptest.NewLogger(t))

	body := `{"route":"auth.login","receipt":1,"data":{"username":"ash","password":"hunter2hunter2"}}`
	require.NoError(t, r.Handle(newFrame("", body)))

	assert.Equal(t, 1, mem.SessionCount())

	responses := decodeResponses(t, mq)
	require.Len(t, responses, 2)
	assert.False(t, responses[0].Error)
	assert.Equal(t, "auth.login", responses[0].Route)
	assert.Equal(t, float64(1), responses[0].Receipt)
	// The broadcast carries no receipt.
	assert.Nil(t, responses[1].Receipt)
}

func TestHandleMalformedBodyAnswers400(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	r := New(mem, mq, zaptest.NewLogger(t))

	require.NoError(t, r.Handle(newFrame("", `{"receipt":5,"data":{}}`)))

	responses := decodeResponses(t, mq)
	require.Len(t, responses, 1)
	assert.Equal(t, 400, errCode(t, responses[0]))
	assert.Equal(t, float64(5), responses[0].Receipt)
}

func TestHandleUndecodableBodyIsDropped(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	r := New(mem, mq, zaptest.NewLogger(t))

	require.NoError(t, r.Handle(newFrame("", `not json at all`)))
	assert.Empty(t, mq.Published())
}

func TestHandleUnknownModuleIsDropped(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	r := New(mem, mq, zaptest.NewLogger(t))

	require.NoError(t, r.Handle(newFrame("", `{"route":"bogus.op","receipt":1,"data":{}}`)))
	assert.Empty(t, mq.Published())
}

func TestHandleUnknownSubRouteAnswers404(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	r := New(mem, mq, zaptest.NewLogger(t))

	require.NoError(t, r.Handle(newFrame("", `{"route":"auth.bogus","receipt":1,"data":{}}`)))

	responses := decodeResponses(t, mq)
	require.Len(t, responses, 1)
	assert.Equal(t, 404, errCode(t, responses[0]))
}

func TestHandleNestedUnknownSubRouteAnswers404(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	admin := seedAccount(t, mem, "keeper", "hunter2hunter2", session.LevelAdmin)
	mem.SeedSession(&store.Session{SessionKey: "admin-key", UserID: admin.ID})
	r := New(mem, mq, zaptest.NewLogger(t))

	require.NoError(t, r.Handle(newFrame("admin-key", `{"route":"admin.unknown.delete","receipt":1,"data":{}}`)))

	responses := decodeResponses(t, mq)
	require.Len(t, responses, 1)
	assert.Equal(t, 404, errCode(t, responses[0]))
}

func TestHandleGuardShortCircuitIsSettled(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	r := New(mem, mq, zaptest.NewLogger(t))

	// Anonymous logout: the guard answers 403 and the frame acks.
	require.NoError(t, r.Handle(newFrame("", `{"route":"auth.logout","receipt":1,"data":{}}`)))

	responses := decodeResponses(t, mq)
	require.Len(t, responses, 1)
	assert.Equal(t, 403, errCode(t, responses[0]))
}

func TestHandleCommitFailureRollsBackOutbound(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	seedAccount(t, mem, "ash", "hunter2hunter2", session.LevelUser)
	r := New(mem, mq, zaptest.NewLogger(t))

	mem.FailCommit = true
	body := `{"route":"auth.login","receipt":1,"data":{"username":"ash","password":"hunter2hunter2"}}`
	err := r.Handle(newFrame("", body))
	require.Error(t, err)

	// No session landed and none of the buffered replies leaked; the only
	// published message is the direct fault response.
	assert.Equal(t, 0, mem.SessionCount())
	responses := decodeResponses(t, mq)
	require.Len(t, responses, 1)
	assert.Equal(t, 500, errCode(t, responses[0]))
	assert.Equal(t, float64(1), responses[0].Receipt)
}

func TestHandleFaultWithoutReceiptStaysSilent(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	seedAccount(t, mem, "ash", "hunter2hunter2", session.LevelUser)
	r := New(mem, mq, zaptest.NewLogger(t))

	mem.FailCommit = true
	body := `{"route":"auth.login","data":{"username":"ash","password":"hunter2hunter2"}}`
	require.Error(t, r.Handle(newFrame("", body)))

	assert.Empty(t, decodeResponses(t, mq))
}

func TestHandleTouchesSession(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	user := seedAccount(t, mem, "ash", "hunter2hunter2", session.LevelUser)
	stale := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.SeedSession(&store.Session{SessionKey: "active", UserID: user.ID, ActivityAt: stale})
	r := New(mem, mq, zaptest.NewLogger(t))

	require.NoError(t, r.Handle(newFrame("active", `{"route":"ping.ping","receipt":1,"data":{}}`)))

	after, ok := mem.SessionByKey("active")
	require.True(t, ok)
	assert.True(t, after.ActivityAt.After(stale))
}

func TestHandleRouteDepthSelectsCorrectOperation(t *testing.T) {
	mem := storetest.NewMemory()
	mq := transport.NewMemory()
	admin := seedAccount(t, mem, "keeper", "hunter2hunter2", session.LevelAdmin)
	victim := seedAccount(t, mem, "member", "hunter2hunter2", session.LevelUser)
	mem.SeedSession(&store.Session{SessionKey: "admin-key", UserID: admin.ID})
	r := New(mem, mq, zaptest.NewLogger(t))

	body := fmt.Sprintf(`{"route":"admin.users.delete_user","receipt":1,"data":{"user":%d}}`, victim.ID)
	require.NoError(t, r.Handle(newFrame("admin-key", body)))

	deleted, ok := mem.User(victim.ID)
	require.True(t, ok)
	assert.True(t, deleted.Deleted)
}
