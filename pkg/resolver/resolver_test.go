package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumeapp/plume.go/pkg/models"
)

func TestApplyOperationStaleRejection(t *testing.T) {
	log := NewLog()
	base := time.Now()

	err := log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "bonjour",
		UserID: "a", Timestamp: base, Version: 1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), log.Version())
	content := log.GetContent()

	// Same version: rejected, content untouched.
	err = log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "XXX",
		UserID: "b", Timestamp: base.Add(time.Millisecond), Version: 1,
	})
	assert.ErrorIs(t, err, ErrStaleOperation)
	assert.Equal(t, int64(1), log.Version())
	assert.Equal(t, content, log.GetContent())

	// Older version: rejected too.
	err = log.ApplyOperation(models.Operation{
		Type: models.OpDelete, Position: 0, Length: 3,
		UserID: "b", Timestamp: base.Add(time.Millisecond), Version: 0,
	})
	assert.ErrorIs(t, err, ErrStaleOperation)
	assert.Equal(t, "bonjour", log.GetContent())
}

func TestConcurrentInsertsAtSameOffset(t *testing.T) {
	// User A inserts "bonjour " at offset 0, then user B inserts
	// "le monde" at offset 0 before seeing A's edit. B's insertion is
	// shifted right past A's, not the other way around.
	log := NewLog()
	base := time.Now()

	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "bonjour ",
		UserID: "user-a", Timestamp: base, Version: 1,
	}))
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "le monde",
		UserID: "user-b", Timestamp: base.Add(10 * time.Millisecond), Version: 2,
	}))

	assert.Equal(t, "bonjour le monde", log.GetContent())
	assert.Equal(t, int64(2), log.Version())
}

func TestConvergenceOnDisjointEdits(t *testing.T) {
	base := time.Now()
	opA := models.Operation{
		Type: models.OpInsert, Position: 0, Text: "aaa",
		UserID: "a", Timestamp: base,
	}
	opB := models.Operation{
		Type: models.OpInsert, Position: 10, Text: "bbb",
		UserID: "b", Timestamp: base.Add(5 * time.Millisecond),
	}

	first := NewLog()
	a, b := opA, opB
	a.Version, b.Version = 1, 2
	require.NoError(t, first.ApplyOperation(a))
	require.NoError(t, first.ApplyOperation(b))

	second := NewLog()
	a, b = opA, opB
	b.Version, a.Version = 1, 2
	require.NoError(t, second.ApplyOperation(b))
	require.NoError(t, second.ApplyOperation(a))

	assert.Equal(t, first.GetContent(), second.GetContent())
	assert.Equal(t, "aaabbb", first.GetContent())
}

func TestDeleteShiftsLaterOverlappingInsert(t *testing.T) {
	log := NewLog()
	base := time.Now().Add(-time.Minute)

	// The base insert is older than the adjustment window, so only the
	// delete/insert pair under test interact.
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "abcdef",
		UserID: "a", Timestamp: base, Version: 1,
	}))
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpDelete, Position: 0, Length: 2,
		UserID: "a", Timestamp: base.Add(time.Minute), Version: 2,
	}))
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 1, Text: "ZZ",
		UserID: "b", Timestamp: base.Add(time.Minute + 100*time.Millisecond), Version: 3,
	}))

	// The insert authored at offset 1 lands at 0 after shifting left past
	// the two deleted characters (floored at zero).
	assert.Equal(t, "ZZcdef", log.GetContent())
}

func TestReplace(t *testing.T) {
	log := NewLog()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "bonjour",
		UserID: "a", Timestamp: base, Version: 1,
	}))
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpReplace, Position: 0, Length: 7, Text: "salut",
		UserID: "a", Timestamp: base.Add(time.Minute), Version: 2,
	}))

	assert.Equal(t, "salut", log.GetContent())
}

func TestOutOfBoundsOffsetsAreClamped(t *testing.T) {
	log := NewLog()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 100, Text: "fin",
		UserID: "a", Timestamp: base, Version: 1,
	}))
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpDelete, Position: 1, Length: 100,
		UserID: "a", Timestamp: base.Add(time.Minute), Version: 2,
	}))

	assert.Equal(t, "f", log.GetContent())
}

func TestOperationsReturnsCopy(t *testing.T) {
	log := NewLog()
	require.NoError(t, log.ApplyOperation(models.Operation{
		Type: models.OpInsert, Position: 0, Text: "a",
		UserID: "a", Timestamp: time.Now(), Version: 1,
	}))

	ops := log.Operations()
	require.Len(t, ops, 1)
	ops[0].Text = "mutated"

	assert.Equal(t, "a", log.Operations()[0].Text)
}
