package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()

	assert.Empty(t, tr.PresentIDs())
	assert.False(t, tr.Present("u1"))

	tr.Enter("u2")
	tr.Enter("u1")
	tr.Enter("u1") // idempotent

	assert.True(t, tr.Present("u1"))
	assert.Equal(t, []string{"u1", "u2"}, tr.PresentIDs())

	tr.Leave("u1")
	tr.Leave("u1") // idempotent

	assert.False(t, tr.Present("u1"))
	assert.Equal(t, []string{"u2"}, tr.PresentIDs())
}
