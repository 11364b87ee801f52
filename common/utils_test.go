package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesce(t *testing.T) {
	assert.Equal(t, "b", Coalesce("", "b", "c"))
	assert.Equal(t, "", Coalesce("", ""))
	assert.Equal(t, 3, Coalesce(0, 3))
}

func TestValueOr(t *testing.T) {
	zero := float32(0)
	assert.Equal(t, float32(0.5), ValueOr(nil, float32(0.5)))
	assert.Equal(t, float32(0), ValueOr(&zero, 0.5), "a present zero wins over the fallback")
	assert.Equal(t, [4]float32{1, 1, 1, 1}, ValueOr(nil, [4]float32{1, 1, 1, 1}))
}
