package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineSplitterCarriesPartialLine(t *testing.T) {
	var s LineSplitter

	assert.Equal(t, []string{"first"}, s.Feed([]byte("first\r\nsec")))
	assert.Equal(t, "sec", s.Partial())

	assert.Equal(t, []string{"second", "", "third"}, s.Feed([]byte("ond\n\nthird\npassword: ")))
	assert.Equal(t, "password: ", s.Partial())

	rest, ok := s.Flush()
	assert.True(t, ok)
	assert.Equal(t, "password: ", rest)

	_, ok = s.Flush()
	assert.False(t, ok, "second Flush() must report nothing")
}
