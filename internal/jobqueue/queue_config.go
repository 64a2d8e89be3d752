/*
Package jobqueue configuration. All tunable parameters for the River job queue.

## Quick Configuration Reference:

- Increase MaxWorkers for faster draining after bulk deletes
- MaxAttempts bounds how long a failing blob store is retried; River
  spaces attempts out with its own backoff
- JobTimeout bounds a single blob delete

Failed jobs retain their error in River's jobs table.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueuePhotoCleanup is the River queue photo cleanup jobs run on
const QueuePhotoCleanup = "photo_cleanup"

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers  int           // Concurrent cleanup workers (default: 4)
	MaxAttempts int           // Attempts per job before it is discarded (default: 10)
	JobTimeout  time.Duration // Maximum time a single job can run (default: 30 seconds)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  4,
		MaxAttempts: 10,
		JobTimeout:  30 * time.Second,
	}
}

// Normalize fills zero values with defaults
func (c *QueueConfig) Normalize() *QueueConfig {
	def := DefaultQueueConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: 1,
		},
		QueuePhotoCleanup: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
