package core

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalfPanicsWithFatalError(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*FatalError)
		require.True(t, ok)
		assert.Contains(t, fe.Error(), "double deref of buffer 7")
	}()
	Fatalf("double deref of buffer %d", 7)
}

func TestFatalIf(t *testing.T) {
	assert.NotPanics(t, func() { FatalIf(nil, "never") })

	defer func() {
		fe, ok := recover().(*FatalError)
		require.True(t, ok)
		assert.True(t, errors.Is(fe, ErrTimeout))
		assert.Contains(t, fe.Error(), "waiting for upload")
	}()
	FatalIf(ErrTimeout, "waiting for upload")
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	first := "first"
	second := "second"
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return data.Width == 0
	}))
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, first, nil))

	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{Width: 800, Height: 600}))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{}))
	assert.Equal(t, []string{"first"}, calls)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, first))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, first))
	assert.False(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
}

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 0.001)

	// older samples fall out of the window
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.032)
	}
	assert.InDelta(t, 32.0, m.FrameTime(), 0.001)
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	c.Update()
	assert.GreaterOrEqual(t, c.Elapsed(), 0.0)
	c.Stop()
	e := c.Elapsed()
	c.Update()
	assert.Equal(t, e, c.Elapsed())
}
