package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteURL(ctx context.Context, photoURL string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, photoURL)
	return nil
}

type fakeInserter struct {
	args []river.JobArgs
	opts []*river.InsertOpts
	err  error
}

func (f *fakeInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	f.opts = append(f.opts, opts)
	return &rivertype.JobInsertResult{}, nil
}

func TestPhotoCleanupWorker_Work(t *testing.T) {
	blobs := &fakeDeleter{}
	w := NewPhotoCleanupWorker(blobs, DefaultQueueConfig())

	job := &river.Job[PhotoCleanupJobArgs]{Args: PhotoCleanupJobArgs{PhotoURL: "/media/chat-photos/l1/a.jpg"}}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, []string{"/media/chat-photos/l1/a.jpg"}, blobs.deleted)

	empty := &river.Job[PhotoCleanupJobArgs]{Args: PhotoCleanupJobArgs{}}
	require.NoError(t, w.Work(context.Background(), empty))
	assert.Len(t, blobs.deleted, 1)
}

func TestPhotoCleanupWorker_FailureIsRetried(t *testing.T) {
	blobs := &fakeDeleter{err: errors.New("disk unavailable")}
	w := NewPhotoCleanupWorker(blobs, DefaultQueueConfig())

	job := &river.Job[PhotoCleanupJobArgs]{Args: PhotoCleanupJobArgs{PhotoURL: "/media/x.jpg"}}
	err := w.Work(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk unavailable")
	assert.Equal(t, 30*time.Second, w.Timeout(job))
}

func TestSchedulePhotoCleanup(t *testing.T) {
	ins := &fakeInserter{}
	jq := &JobQueue{inserter: ins, config: DefaultQueueConfig()}

	require.NoError(t, jq.SchedulePhotoCleanup(context.Background(), "/media/a.jpg"))
	require.NoError(t, jq.SchedulePhotoCleanup(context.Background(), ""))

	require.Len(t, ins.args, 1)
	assert.Equal(t, PhotoCleanupJobArgs{PhotoURL: "/media/a.jpg"}, ins.args[0])
	assert.Equal(t, QueuePhotoCleanup, ins.opts[0].Queue)

	ins.err = errors.New("pool closed")
	assert.Error(t, jq.SchedulePhotoCleanup(context.Background(), "/media/b.jpg"))
}

func TestQueueConfig(t *testing.T) {
	c := (&QueueConfig{MaxWorkers: 7}).Normalize()
	assert.Equal(t, 7, c.MaxWorkers)
	assert.Equal(t, 10, c.MaxAttempts)
	assert.Equal(t, 30*time.Second, c.JobTimeout)

	queues := c.RiverQueueConfig()
	assert.Equal(t, 7, queues[QueuePhotoCleanup].MaxWorkers)
	assert.Contains(t, queues, river.QueueDefault)
	assert.Equal(t, "photo_cleanup", PhotoCleanupJobArgs{}.Kind())
}
