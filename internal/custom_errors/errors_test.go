package custom_errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError_Is(t *testing.T) {
	err := NewNotFoundError("job", "abc-123")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "abc-123")
}

func TestConflictError_Is(t *testing.T) {
	err := NewConflictError("claim already held")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestStorageUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStorageUnavailableError("FetchDueJobs", cause)

	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "FetchDueJobs")
}

func TestStorageUnavailableError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("poll failed: %w", NewStorageUnavailableError("ListJobs", errors.New("timeout")))
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
}

func TestValidationError_Aggregates(t *testing.T) {
	ve := &ValidationError{}
	require.False(t, ve.HasError())
	assert.Equal(t, "", ve.Error())

	ve.Add(errors.New("bad cron expression"))
	ve.Add(errors.New("payload: url is required"))

	require.True(t, ve.HasError())
	assert.Contains(t, ve.Error(), "bad cron expression")
	assert.Contains(t, ve.Error(), "url is required")
	assert.True(t, IsValidation(fmt.Errorf("add job: %w", ve)))
}
