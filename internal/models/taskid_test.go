package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/stagehand/internal/models"
)

func TestEncodeTaskID_Layout(t *testing.T) {
	id, err := models.EncodeTaskID(42, models.TaskClassStorage, 3)
	require.NoError(t, err)

	assert.Len(t, id, models.TaskIDLength)
	assert.Equal(t, "000000042100000003", id)
}

func TestEncodeDecodeTaskID_RoundTrip(t *testing.T) {
	cases := []struct {
		userID   int64
		class    models.TaskClass
		sequence int64
	}{
		{1, models.TaskClassStorage, 1},
		{999999999, models.TaskClassAccount, 99999999},
		{123456, models.TaskClassStorage, 0},
	}

	for _, tc := range cases {
		encoded, err := models.EncodeTaskID(tc.userID, tc.class, tc.sequence)
		require.NoError(t, err)

		decoded, err := models.DecodeTaskID(encoded)
		require.NoError(t, err)
		assert.Equal(t, tc.userID, decoded.AllocationUserID)
		assert.Equal(t, tc.class, decoded.Class)
		assert.Equal(t, tc.sequence, decoded.Sequence)
		assert.Equal(t, encoded, decoded.String())
	}
}

func TestEncodeTaskID_OutOfRange(t *testing.T) {
	_, err := models.EncodeTaskID(1000000000, models.TaskClassStorage, 1)
	assert.Error(t, err)

	_, err = models.EncodeTaskID(-1, models.TaskClassStorage, 1)
	assert.Error(t, err)

	_, err = models.EncodeTaskID(1, models.TaskClassStorage, 100000000)
	assert.Error(t, err)

	_, err = models.EncodeTaskID(1, models.TaskClass(10), 1)
	assert.Error(t, err)
}

func TestDecodeTaskID_Malformed(t *testing.T) {
	for _, s := range []string{"", "12345", "00000004210000000x", "0000000421000000033"} {
		_, err := models.DecodeTaskID(s)
		assert.ErrorIs(t, err, models.ErrMalformedTaskID, "input %q", s)
		assert.Equal(t, models.LookupInvalid, models.ClassifyLookup(err))
	}
}

func TestPIDependencyID(t *testing.T) {
	id, err := models.PIDependencyID(7)
	require.NoError(t, err)
	assert.Equal(t, "000000007100000001", id)
}

func TestTaskIDFromFileName(t *testing.T) {
	id, ok := models.TaskIDFromFileName("new_allocation_taskid_000000042100000003.json")
	assert.True(t, ok)
	assert.Equal(t, "000000042100000003", id)

	id, ok = models.TaskIDFromFileName("update_quota_taskid_000000042100000003_completed_01022026-150405.json")
	assert.True(t, ok)
	assert.Equal(t, "000000042100000003", id)

	_, ok = models.TaskIDFromFileName("notes.json")
	assert.False(t, ok)
}
