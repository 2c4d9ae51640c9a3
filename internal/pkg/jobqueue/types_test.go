package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	job := &Job{ID: "j1", Type: JobTypeNotification, Status: JobStatusPending, MaxRetries: 2, CreatedAt: time.Now()}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.False(t, job.IsRetryable())

	job.MarkAsFailed("boom again")
	assert.False(t, job.IsRetryable(), "max retries reached")

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestPayloadRoundTrip(t *testing.T) {
	type msg struct {
		AccountID uint   `json:"account_id"`
		Link      string `json:"link"`
	}
	m, err := PayloadToMap(msg{AccountID: 3, Link: "/p/abc"})
	require.NoError(t, err)
	assert.Equal(t, "/p/abc", m["link"])

	var out msg
	require.NoError(t, (&Job{Payload: m}).DecodePayload(&out))
	assert.Equal(t, msg{AccountID: 3, Link: "/p/abc"}, out)
}
