package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSetNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"75192", "75192-1"},
		{"75192-1", "75192-1"},
		{"75192-2", "75192-2"},
		{"  10179 ", "10179-1"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeSetNumber(c.in), "input %q", c.in)
	}
}

func TestParseSetInput(t *testing.T) {
	assert.Nil(t, ParseSetInput(""))
	assert.Equal(t, []string{"75192", "10179"}, ParseSetInput("75192, 10179"))
	assert.Equal(t, []string{"75192", "10179", "21309"}, ParseSetInput("75192\n10179,21309"))
	assert.Equal(t, []string{"75192"}, ParseSetInput("75192,,\n ,"))
}
