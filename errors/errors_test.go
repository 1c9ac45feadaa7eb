package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "step %s", "sort")

	assert.Equal(t, "step sort: original", wrapped.Error())
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

func TestAs(t *testing.T) {
	original := &customError{msg: "custom"}
	wrapped := Wrap(original, "wrapped")

	var target *customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.msg)
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("error"), "raise engine.channel_capacity")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "raise engine.channel_capacity", hints[0])
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, WithDetail(nil, "detail"))
}

func TestEngineErrorKinds(t *testing.T) {
	t.Run("mark keeps the cause message", func(t *testing.T) {
		cause := New("division by zero in row 7")
		marked := Mark(Wrap(cause, "step calc"), ErrWorkerProcessingFailed)

		assert.True(t, Is(marked, ErrWorkerProcessingFailed))
		assert.True(t, Is(marked, cause))
		assert.Equal(t, "step calc: division by zero in row 7", marked.Error())
	})

	t.Run("channel timeout is a timeout", func(t *testing.T) {
		err := Wrap(ErrChannelTimeout, "put row")
		assert.True(t, Is(err, ErrChannelTimeout))
		assert.True(t, Is(err, ErrTimeout))
		assert.False(t, Is(err, ErrChannelClosed))
	})

	t.Run("invalid topology is an invalid request", func(t *testing.T) {
		err := NewInvalidTopologyError("hop %s -> %s references unknown step", "a", "b")
		assert.True(t, IsInvalidRequestError(err))
		assert.True(t, Is(err, ErrInvalidTopology))
		assert.Contains(t, err.Error(), "references unknown step")
	})

	t.Run("not found", func(t *testing.T) {
		err := NewNotFoundError("run %s", "abc")
		assert.True(t, IsNotFoundError(err))
		assert.False(t, IsNotFoundError(nil))
	})
}

func TestFromPanic(t *testing.T) {
	t.Run("string value", func(t *testing.T) {
		err := FromPanic("boom")
		require.Error(t, err)
		assert.Equal(t, "panic: boom", err.Error())
		assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")
	})

	t.Run("error value", func(t *testing.T) {
		cause := New("nil map write")
		err := FromPanic(cause)
		assert.True(t, Is(err, cause))
		assert.Contains(t, err.Error(), "nil map write")
	})
}

func ExampleMark() {
	err := Mark(New("disk full"), ErrWorkerProcessingFailed)
	fmt.Println(err, Is(err, ErrWorkerProcessingFailed))
	// Output: disk full true
}
