package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"cursor.inject.success", "cursor.inject.success", true},
		{"cursor.inject.success", "cursor.inject.failure", false},
		{"cursor.inject.*", "cursor.inject.success", true},
		{"cursor.*", "cursor.inject.success", true},
		{"cursor.*", "cursor", false},
		{"cursor.*", "cursorx.inject", false},
		{"*", "anything.at.all", true},
		{"*", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.topic, func(t *testing.T) {
			require.NoError(t, ValidatePattern(tt.pattern))
			require.Equal(t, tt.want, Match(tt.pattern, tt.topic))
		})
	}
}

func TestValidatePattern(t *testing.T) {
	require.NoError(t, ValidatePattern("pool.worker.status"))
	require.NoError(t, ValidatePattern("pool.*"))
	require.ErrorIs(t, ValidatePattern(""), ErrInvalidPattern)
	require.ErrorIs(t, ValidatePattern(".pool"), ErrInvalidPattern)
	require.ErrorIs(t, ValidatePattern("*.pool"), ErrInvalidPattern)
	require.ErrorIs(t, ValidatePattern("pool.w*"), ErrInvalidPattern)
}
