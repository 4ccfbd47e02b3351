package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaypointError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeTransitionNotAllowed, "place %q not allowed", "x").WithTransition("go")
	assert.Equal(t, `[TRANSITION_NOT_ALLOWED] transition go: place "x" not allowed`, err.Error())

	plain := NewError(ErrCodeNotFound, "missing")
	assert.Equal(t, "[NOT_FOUND] missing", plain.Error())
}

func TestIsCode_ThroughWraps(t *testing.T) {
	root := NewError(ErrCodeForbiddenProperty, "nope")
	outer := NewError(ErrCodeExecution, "tool failed").WithCause(root)
	wrapped := fmt.Errorf("run: %w", outer)

	assert.True(t, IsCode(wrapped, ErrCodeExecution))
	assert.True(t, IsCode(wrapped, ErrCodeForbiddenProperty))
	assert.False(t, IsCode(wrapped, ErrCodeConflict))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeExecution))
	assert.Equal(t, ErrCodeExecution, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(nil))
}
