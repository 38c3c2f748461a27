package bolt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttempt(electionID, subject, candidateID string) domain.VoteAttempt {
	return domain.VoteAttempt{
		ID:           uuid.New(),
		ElectionID:   electionID,
		VoterSubject: subject,
		CandidateID:  candidateID,
		SubmittedAt:  time.Now().UTC(),
	}
}

func TestAppendAndReadInOrder(t *testing.T) {
	log, err := Open(t.TempDir(), 1)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res, err := log.Append(ctx, newAttempt("e1", fmt.Sprintf("voter-%d", i), "A"))
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, uint64(i+1), res.Offset)
	}

	entries, err := log.Read(ctx, 0, 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Offset)
		assert.Equal(t, fmt.Sprintf("voter-%d", i), e.Attempt.VoterSubject)
	}

	// Reading from the middle honors the offset.
	tail, err := log.Read(ctx, 0, 4, 100)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Offset)
}

func TestAppendIdempotency(t *testing.T) {
	log, err := Open(t.TempDir(), 4)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	first, err := log.Append(ctx, newAttempt("e1", "u1", "A"))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// Same (election, subject) collapses onto the original entry even
	// when the candidate differs.
	retry, err := log.Append(ctx, newAttempt("e1", "u1", "B"))
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, first.Partition, retry.Partition)
	assert.Equal(t, first.Offset, retry.Offset)

	entries, err := log.Read(ctx, first.Partition, 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Attempt.CandidateID)

	// A different election for the same voter is a fresh entry.
	other, err := log.Append(ctx, newAttempt("e2", "u1", "A"))
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestPartitionAssignmentIsStable(t *testing.T) {
	p1 := PartitionFor("e1", "u1", 8)
	p2 := PartitionFor("e1", "u1", 8)
	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, 0)
	assert.Less(t, p1, 8)
}

func TestHasAttempt(t *testing.T) {
	log, err := Open(t.TempDir(), 2)
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	found, err := log.HasAttempt(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = log.Append(ctx, newAttempt("e1", "u1", "A"))
	require.NoError(t, err)

	found, err = log.HasAttempt(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	log, err := Open(dir, 2)
	require.NoError(t, err)
	res, err := log.Append(ctx, newAttempt("e1", "u1", "A"))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	reopened, err := Open(dir, 2)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Read(ctx, res.Partition, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	retry, err := reopened.Append(ctx, newAttempt("e1", "u1", "A"))
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
}

func TestReopenWithDifferentPartitionCountFails(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, 2)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = Open(dir, 4)
	assert.Error(t, err)
}

func TestWatchSignalsAppend(t *testing.T) {
	log, err := Open(t.TempDir(), 1)
	require.NoError(t, err)
	defer log.Close()

	ch := log.Watch(0)
	_, err = log.Append(context.Background(), newAttempt("e1", "u1", "A"))
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("watch channel was not signalled")
	}
}
