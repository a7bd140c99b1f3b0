package status

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "idlejob/pkg/logx"
)

func TestCriticalIsAdvisory(t *testing.T) {
	var buf bytes.Buffer
	exited := false
	r := New(logx.NewJSON(&buf, "debug"), WithExit(func(int) { exited = true }))

	r.Critical("could not register job", logx.String("job", "x"))

	require.False(t, exited)
	require.Equal(t, uint64(1), r.Criticals())
	out := buf.String()
	assert.Contains(t, out, `"severity":"critical"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"stack"`)
	assert.Contains(t, out, "could not register job")
}

func TestFatalCallsExitHook(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	r := New(logx.NewJSON(&buf, "debug"), WithExit(func(c int) { code = c }))

	r.Fatal("worker gone")

	require.Equal(t, 1, code)
	require.Equal(t, uint64(1), r.Criticals())
	require.Contains(t, buf.String(), `"severity":"fatal"`)
}

func TestWarnIsThrottledPerMessage(t *testing.T) {
	var buf bytes.Buffer
	r := New(logx.NewJSON(&buf, "debug"), WithWarnRate(time.Hour, 2))
	err := errors.New("EPERM")

	for i := 0; i < 5; i++ {
		r.Warn("could not set idle scheduling class", err)
	}
	r.Warn("another warning", err)

	require.Equal(t, 3, strings.Count(buf.String(), `"level":"warn"`))
	require.Equal(t, uint64(3), r.Suppressed())
	require.Contains(t, buf.String(), `"err":"EPERM"`)
}

func TestWarnUnthrottled(t *testing.T) {
	var buf bytes.Buffer
	r := New(logx.NewJSON(&buf, "debug"), WithWarnRate(0, 0))
	for i := 0; i < 10; i++ {
		r.Warn("same", nil)
	}
	require.Equal(t, 10, strings.Count(buf.String(), `"level":"warn"`))
	require.Zero(t, r.Suppressed())
}

func TestDebugRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	r := New(logx.NewJSON(&buf, "info"))
	r.Debug("quiet")
	require.Empty(t, buf.String())
}
