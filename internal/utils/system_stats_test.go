package utils

import (
	"testing"

	"crowdscope/internal/core/processor"

	"github.com/stretchr/testify/assert"
)

type staticWorkers struct{}

func (staticWorkers) Stats() processor.WorkerStats {
	return processor.WorkerStats{Workers: 3, QueueCapacity: 6}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 Bytes", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.00 GB", FormatBytes(1024*1024*1024))
}

func TestGetSystemStats(t *testing.T) {
	stats := GetSystemStats(staticWorkers{})
	assert.Positive(t, stats.NumCPU)
	assert.NotEmpty(t, stats.MemoryHuman)
	if assert.NotNil(t, stats.Workers) {
		assert.Equal(t, 3, stats.Workers.Workers)
	}

	assert.Nil(t, GetSystemStats(nil).Workers)
}
