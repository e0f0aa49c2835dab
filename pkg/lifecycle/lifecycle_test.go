package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "discovered", Discovered.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestStateNext(t *testing.T) {
	s := Discovered
	for _, want := range []State{Validated, Registered, Loaded, Running, Running} {
		s = s.Next()
		assert.Equal(t, want, s)
	}
}
