package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("rfc3339", func(t *testing.T) {
		ms, err := Parse("2025-10-29T13:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC).UnixMilli(), ms)
	})

	t.Run("duration is relative to now", func(t *testing.T) {
		before := time.Now().Add(-time.Hour).UnixMilli()
		ms, err := Parse("1h")
		require.NoError(t, err)
		after := time.Now().Add(-time.Hour).UnixMilli()
		assert.GreaterOrEqual(t, ms, before)
		assert.LessOrEqual(t, ms, after)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Parse("yesterday")
		assert.Error(t, err)
		_, err = Parse("")
		assert.Error(t, err)
	})
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2h", "1h")
	require.NoError(t, err)
	assert.Less(t, since, until)

	_, _, err = ParseRange("1h", "2h")
	assert.ErrorContains(t, err, "--since must be before --until")

	since, until, err = ParseRange("", "")
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)
}

func TestParseRounds(t *testing.T) {
	tests := []struct {
		spec     string
		from, to int
		wantErr  bool
	}{
		{"", 0, 0, false},
		{"5", 5, 5, false},
		{"3..7", 3, 7, false},
		{"3..", 3, 0, false},
		{"..7", 0, 7, false},
		{"..", 0, 0, true},
		{"7..3", 0, 0, true},
		{"0", 0, 0, true},
		{"x..3", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			from, to, err := ParseRounds(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.to, to)
		})
	}
}
