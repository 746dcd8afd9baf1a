package polling

import (
	"testing"

	"github.com/Allenxuxu/polling/poller"
	"github.com/stretchr/testify/assert"
)

func TestNewOptions(t *testing.T) {
	opts := newOptions()
	assert.Equal(t, poller.DefaultBatch, opts.EventBatch)
	assert.Equal(t, poller.DefaultBatch, opts.EventsCapacity)
	assert.Equal(t, "default", opts.Name)
	assert.False(t, opts.Metrics)

	opts = newOptions(EventBatch(8), EventsCapacity(16), Name("io"), Metrics(true))
	assert.Equal(t, 8, opts.EventBatch)
	assert.Equal(t, 16, opts.EventsCapacity)
	assert.Equal(t, "io", opts.Name)
	assert.True(t, opts.Metrics)
}
