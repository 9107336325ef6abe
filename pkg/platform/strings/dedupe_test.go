package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactList(t *testing.T) {
	assert.Nil(t, CompactList(nil))
	assert.Nil(t, CompactList([]string{" ", ""}))
	assert.Equal(t, []string{"a:9092", "b:9092"}, CompactList([]string{" a:9092", "b:9092 ", "", "a:9092"}))
}
