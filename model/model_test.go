package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

func TestMockEngine_QueueBeforePromptLookup(t *testing.T) {
	m := NewMockEngine("mock-1")
	m.AddResponse("hello", "canned greeting")
	m.Enqueue(Response{Text: "scripted first", ToolCalls: []ToolCall{{Name: "get_time"}}})

	req := Request{Messages: []core.Message{{Role: core.RoleUser, Content: "hello"}}}

	first, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "scripted first", first.Text)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "stop", first.FinishReason)

	second, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "canned greeting", second.Text)

	third, err := m.Complete(context.Background(), Request{
		Messages: []core.Message{{Role: core.RoleUser, Content: "unseen"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: unseen", third.Text)

	assert.Len(t, m.Requests(), 3)
}

func TestMockEngine_ErrorsWithoutMessages(t *testing.T) {
	m := NewMockEngine("mock-1")

	_, err := m.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestMockEngine_HonorsCanceledContext(t *testing.T) {
	m := NewMockEngine("mock-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Complete(ctx, Request{Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Requests(), "canceled calls must not be recorded")
}

func TestPool_RegisterGetNames(t *testing.T) {
	pool := NewPool()
	assert.Empty(t, pool.Names())

	pool.Register("bravo", NewMockEngine("bravo"))
	pool.Register("alpha", NewMockEngine("alpha"))

	assert.Equal(t, []string{"alpha", "bravo"}, pool.Names())
	assert.Equal(t, 2, pool.Len())

	engine, ok := pool.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", engine.Info().Name)

	_, ok = pool.Get("missing")
	assert.False(t, ok)

	assert.True(t, pool.Unregister("bravo"))
	assert.False(t, pool.Unregister("bravo"))
	assert.Equal(t, []string{"alpha"}, pool.Names())
}
