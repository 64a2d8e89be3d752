/*
Package jobqueue provides a River-based job queue for chat background work.

Deleting a photo message removes the database row synchronously; the blob
behind it is removed later by a photo_cleanup job so a slow or failing blob
store never blocks the delete. See queue_config.go for tuning parameters.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"
)

// BlobDeleter removes a stored photo by its public url. Deleting a blob that
// no longer exists must succeed.
type BlobDeleter interface {
	DeleteURL(ctx context.Context, photoURL string) error
}

// PhotoCleanupJobArgs represents the arguments for a photo cleanup job
type PhotoCleanupJobArgs struct {
	PhotoURL string `json:"photo_url"`
}

// Kind returns the job kind for River
func (PhotoCleanupJobArgs) Kind() string {
	return "photo_cleanup"
}

// PhotoCleanupWorker deletes the blob behind a deleted photo message
type PhotoCleanupWorker struct {
	river.WorkerDefaults[PhotoCleanupJobArgs]
	blobs  BlobDeleter
	config *QueueConfig
}

// NewPhotoCleanupWorker creates a worker backed by blobs
func NewPhotoCleanupWorker(blobs BlobDeleter, config *QueueConfig) *PhotoCleanupWorker {
	return &PhotoCleanupWorker{blobs: blobs, config: config}
}

// Timeout bounds a single cleanup attempt
func (w *PhotoCleanupWorker) Timeout(*river.Job[PhotoCleanupJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work performs the photo cleanup
func (w *PhotoCleanupWorker) Work(ctx context.Context, job *river.Job[PhotoCleanupJobArgs]) error {
	if job.Args.PhotoURL == "" {
		return nil
	}

	if err := w.blobs.DeleteURL(ctx, job.Args.PhotoURL); err != nil {
		log.Warn().Err(err).Str("photo_url", job.Args.PhotoURL).Msg("Photo cleanup failed, will retry")
		return fmt.Errorf("failed to delete photo: %w", err)
	}

	log.Debug().Str("photo_url", job.Args.PhotoURL).Msg("Photo blob removed")
	return nil
}

// jobInserter is the part of river.Client the queue needs to enqueue work
type jobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// JobQueue manages the River job queue
type JobQueue struct {
	client   *river.Client[pgx.Tx]
	inserter jobInserter
	config   *QueueConfig
}

// NewJobQueue creates a job queue on an existing pgx pool
func NewJobQueue(pool *pgxpool.Pool, blobs BlobDeleter, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewPhotoCleanupWorker(blobs, config))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client:   client,
		inserter: client,
		config:   config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// SchedulePhotoCleanup queues removal of the blob at photoURL
func (jq *JobQueue) SchedulePhotoCleanup(ctx context.Context, photoURL string) error {
	if photoURL == "" {
		return nil
	}

	_, err := jq.inserter.Insert(ctx, PhotoCleanupJobArgs{PhotoURL: photoURL}, &river.InsertOpts{
		Queue: QueuePhotoCleanup,
	})
	if err != nil {
		return fmt.Errorf("failed to queue photo cleanup job: %w", err)
	}

	log.Info().Str("photo_url", photoURL).Msg("Queued photo cleanup")
	return nil
}
