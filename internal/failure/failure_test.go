package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := AtStep(ActionExecution, 3, "click #go", ErrElementNotFound)
	assert.Equal(t, "ActionExecutionError at 3: click #go: element not found", err.Error())

	bare := New(Resource, "", nil)
	assert.Equal(t, "ResourceError", bare.Error())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("running case 4: %w", AtStep(AssertionViolation, 1, "", ErrConditionFalse))

	assert.Equal(t, AssertionViolation, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrConditionFalse))
	assert.Equal(t, Resource, KindOf(fmt.Errorf("acquire: %w", ErrResourceTimeout)))
	assert.Equal(t, Kind(""), KindOf(context.Canceled))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsResource(t *testing.T) {
	assert.True(t, IsResource(New(Resource, ReasonResourceTimeout, ErrResourceTimeout)))
	assert.True(t, IsResource(New(SchedulingTimeout, "", context.DeadlineExceeded)))
	assert.True(t, IsResource(ErrPoolClosed))
	assert.False(t, IsResource(AtStep(ActionExecution, 1, "", nil)))
	assert.False(t, IsResource(errors.New("boom")))
}

func TestReasonOf(t *testing.T) {
	err := fmt.Errorf("lease: %w", New(Resource, ReasonResourceTimeout, ErrResourceTimeout))
	assert.Equal(t, ReasonResourceTimeout, ReasonOf(err))
	assert.Equal(t, "", ReasonOf(errors.New("plain")))
}
