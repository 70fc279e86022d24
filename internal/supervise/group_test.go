package supervise

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGroup_WaitJoinsAll(t *testing.T) {
	g := NewGroup(zap.NewNop(), nil)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		g.Go("worker", func() { n.Add(1) })
	}
	g.Wait()

	assert.Equal(t, int32(10), n.Load())
	stats := g.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(10), stats.Finished)
}

func TestGroup_PanicCaptured(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	var captured atomic.Pointer[PanicError]
	g := NewGroup(zap.New(core), func(pe *PanicError) { captured.Store(pe) })

	g.Go("loop", func() { panic("boom") })
	g.Wait()

	pe := captured.Load()
	require.NotNil(t, pe)
	assert.Equal(t, "loop", pe.Name)
	assert.Equal(t, "boom", pe.Value)
	assert.Contains(t, pe.Error(), "loop panicked: boom")
	assert.Equal(t, int64(1), g.Stats().Panics)
	assert.Equal(t, 1, logs.FilterMessage("goroutine panicked").Len())
}

func TestGroup_RunReturnsPanicError(t *testing.T) {
	g := NewGroup(nil, nil)

	err := g.Run("handler", func() { panic(42) })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 42, pe.Value)

	assert.NoError(t, g.Run("handler", func() {}))
}
