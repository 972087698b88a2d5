package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
}

func TestWrapDoesNotMutateSentinel(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	wrapped := ErrIO.Wrap(cause)

	assert.Nil(t, ErrIO.Unwrap())
	assert.Equal(t, "i/o error", ErrIO.Error())
	assert.Equal(t, "i/o error: disk on fire", wrapped.Error())
	assert.True(t, Is(wrapped, ErrIO))
	assert.True(t, Is(wrapped, cause))
	assert.False(t, Is(wrapped, ErrDirtyFile))
}

func TestIsThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("pull data/a.bin: %w", ErrObjectMissing.Wrap(ErrNotExists))
	assert.True(t, Is(err, ErrObjectMissing))
	assert.True(t, Is(err, ErrNotExists))
	assert.False(t, Is(err, ErrProtocol))

	var target *Error
	assert.True(t, As(err, &target))
	assert.True(t, Is(target, ErrObjectMissing))
}

func TestStaleIndexWrapsMissing(t *testing.T) {
	err := ErrStaleIndexEntry.Wrap(ErrObjectMissing.Wrap(ErrNotExists))
	assert.True(t, Is(err, ErrStaleIndexEntry))
	assert.True(t, Is(err, ErrObjectMissing))
	assert.True(t, Is(err, ErrNotExists))
}
