package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskID(t *testing.T) {
	_, ok := TaskID(context.Background())
	assert.False(t, ok)

	_, ok = TaskID(WithTaskID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := TaskID(WithTaskID(context.Background(), "t1"))
	assert.True(t, ok)
	assert.Equal(t, "t1", id)
}

func TestAgentID(t *testing.T) {
	ctx := WithAgentID(WithTaskID(context.Background(), "t1"), "agent_1")

	id, ok := AgentID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "agent_1", id)

	tid, ok := TaskID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "t1", tid)
}
