package outbound

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

func TestSendBuffersInsideTransaction(t *testing.T) {
	mq := transport.NewMemory()
	ch := New(mq, zaptest.NewLogger(t))

	ch.Begin()
	require.NoError(t, ch.Send(map[string]any{"n": 1}, Options{ConnectionID: "c1"}))
	require.NoError(t, ch.Send(map[string]any{"n": 2}, Options{Broadcast: true}))

	assert.Empty(t, mq.Published())
	assert.Equal(t, 2, ch.Buffered())

	require.NoError(t, ch.Commit())
	published := mq.Published()
	require.Len(t, published, 2)

	first, err := envelope.DecodeFrame(published[0])
	require.NoError(t, err)
	assert.Equal(t, "c1", first.Head.ConnectionID)
	assert.False(t, first.Head.Broadcast)

	second, err := envelope.DecodeFrame(published[1])
	require.NoError(t, err)
	assert.True(t, second.Head.Broadcast)
}

func TestRollbackDiscardsBuffer(t *testing.T) {
	mq := transport.NewMemory()
	ch := New(mq, zaptest.NewLogger(t))

	ch.Begin()
	require.NoError(t, ch.Send(map[string]any{}, Options{ConnectionID: "c1"}))
	ch.Rollback()
	require.NoError(t, ch.Commit())

	assert.Empty(t, mq.Published())
}

func TestSendOutsideTransactionPublishesImmediately(t *testing.T) {
	mq := transport.NewMemory()
	ch := New(mq, zaptest.NewLogger(t))

	require.NoError(t, ch.Send(map[string]any{"direct": true}, Options{ConnectionID: "c1"}))
	assert.Len(t, mq.Published(), 1)
}

func TestFlagsFrozenAtEnqueueTime(t *testing.T) {
	mq := transport.NewMemory()
	ch := New(mq, zaptest.NewLogger(t))

	opts := Options{ConnectionID: "c1", ReqLevel: 1}
	ch.Begin()
	require.NoError(t, ch.Send(map[string]any{}, opts))
	opts.ReqLevel = 2
	require.NoError(t, ch.Commit())

	frame, err := envelope.DecodeFrame(mq.Published()[0])
	require.NoError(t, err)
	assert.Equal(t, 1, frame.Head.ReqLevel)
}

func TestCommitStopsOnPublishFailure(t *testing.T) {
	mq := transport.NewMemory()
	ch := New(mq, zaptest.NewLogger(t))

	ch.Begin()
	require.NoError(t, ch.Send(map[string]any{}, Options{}))
	require.NoError(t, ch.Send(map[string]any{}, Options{}))

	mq.FailPublish = true
	err := ch.Commit()
	require.Error(t, err)
	assert.Zero(t, ch.Buffered())
}

func TestBodyEncodedAsFrameBody(t *testing.T) {
	mq := transport.NewMemory()
	ch := New(mq, zaptest.NewLogger(t))

	resp := envelope.Success("news.get_news_posts", 9, map[string]any{"news": []any{}})
	require.NoError(t, ch.Send(resp, Options{ConnectionID: "c1"}))

	frame, err := envelope.DecodeFrame(mq.Published()[0])
	require.NoError(t, err)

	var decoded envelope.Response
	require.NoError(t, json.Unmarshal(frame.Body, &decoded))
	assert.Equal(t, "news.get_news_posts", decoded.Route)
	assert.False(t, decoded.Error)
}
