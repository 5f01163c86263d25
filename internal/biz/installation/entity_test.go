package installation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTerminalPatchesCarryCounterIncrements(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := &Installation{ID: 1, RunCount: 7, SuccessCount: 5, ErrorCount: 2}

	p := inst.RecordSuccess(at)
	assert.Equal(t, int64(1), p.RunCountDelta)
	assert.Equal(t, int64(1), p.SuccessCountDelta)
	assert.Zero(t, p.ErrorCountDelta)
	assert.Equal(t, int64(8), inst.RunCount)

	p = inst.RecordError(at, "boom").With(inst.DisableForCredentials())
	assert.Equal(t, int64(1), p.RunCountDelta)
	assert.Equal(t, int64(1), p.ErrorCountDelta)
	assert.Equal(t, StatusError, *p.Status)

	p = inst.RecordCancelled(at)
	assert.Zero(t, p.RunCountDelta)
	assert.Zero(t, p.SuccessCountDelta)
	assert.Zero(t, p.ErrorCountDelta)
}

func TestPatchWithAddsIncrements(t *testing.T) {
	p := NewPatch().IncrCounters(1, 1, 0).With(NewPatch().IncrCounters(1, 0, 1))
	assert.Equal(t, int64(2), p.RunCountDelta)
	assert.Equal(t, int64(1), p.SuccessCountDelta)
	assert.Equal(t, int64(1), p.ErrorCountDelta)
}
