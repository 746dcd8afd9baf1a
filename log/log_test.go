package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewZerolog(&buf))
	defer SetLevel(LevelInfo)

	SetLevel(LevelInfo)
	Debugf("hidden %d", 1)
	assert.Equal(t, 0, buf.Len())

	Infof("visible %d", 2)
	assert.Contains(t, buf.String(), `"level":"info"`)
	assert.Contains(t, buf.String(), `"message":"visible 2"`)

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("a", "b")
	assert.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	SetLevel(LevelError)
	Warn("dropped")
	assert.Equal(t, 0, buf.Len())
	Errorf("failed: %s", "x")
	assert.Contains(t, buf.String(), `"message":"failed: x"`)
	assert.True(t, Enabled(LevelError))
	assert.False(t, Enabled(LevelWarn))
}
