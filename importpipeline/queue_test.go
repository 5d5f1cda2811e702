package importpipeline

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func id(b byte) string {
	var raw [32]byte
	raw[0] = b
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// TestQueueDeduplication is spec scenario 3: editions 5 then 6 for the
// same identity within the import delay fold into one pending job.
func TestQueueDeduplication(t *testing.T) {
	q := NewQueue()
	x := id(1)
	now := time.Now()

	q.Enqueue(x, 5, now)
	q.Enqueue(x, 6, now.Add(time.Millisecond))

	require.EqualValues(t, 1, q.Len())
	require.EqualValues(t, 1, q.Stats.Queued)
	require.EqualValues(t, 1, q.Stats.Deduplicated)

	job, ok := q.Dequeue()
	require.True(t, ok)
	require.EqualValues(t, 6, job.SinceEdition)

	q.markFinished()
	require.EqualValues(t, 1, q.Stats.Finished)

	_, ok = q.Dequeue()
	require.False(t, ok)
}

func TestQueueDeduplicationKeepsHigherEditionEvenIfEnqueuedFirst(t *testing.T) {
	q := NewQueue()
	x := id(1)
	now := time.Now()

	q.Enqueue(x, 9, now)
	q.Enqueue(x, 3, now.Add(time.Millisecond))

	job, ok := q.Dequeue()
	require.True(t, ok)
	require.EqualValues(t, 9, job.SinceEdition)
}

func TestQueueIndependentIdentitiesDoNotDeduplicate(t *testing.T) {
	q := NewQueue()
	a, b := id(1), id(2)
	now := time.Now()

	q.Enqueue(a, 1, now)
	q.Enqueue(b, 1, now)

	require.EqualValues(t, 2, q.Len())
	require.EqualValues(t, 0, q.Stats.Deduplicated)

	first, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, a, first.ID)

	second, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, b, second.ID)
}

func TestQueueAveragePerHourZeroBeforeAnyFinish(t *testing.T) {
	q := NewQueue()
	require.Equal(t, float64(0), q.Stats.AveragePerHour())
}
