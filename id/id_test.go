package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        uint64
		expectError bool
		errorMsg    string
	}{
		{name: "Valid snowflake", input: "41771983423143937", want: 41771983423143937},
		{name: "Zero", input: "0", expectError: true, errorMsg: "id cannot be zero"},
		{name: "Not a number", input: "abc", expectError: true, errorMsg: "invalid snowflake"},
		{name: "Negative", input: "-5", expectError: true, errorMsg: "invalid snowflake"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, gErr := ParseGuildID(tt.input)
			c, cErr := ParseChannelID(tt.input)
			u, uErr := ParseUserID(tt.input)

			if tt.expectError {
				for _, err := range []error{gErr, cErr, uErr} {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
				return
			}
			require.NoError(t, gErr)
			require.NoError(t, cErr)
			require.NoError(t, uErr)
			assert.Equal(t, GuildID(tt.want), g)
			assert.Equal(t, ChannelID(tt.want), c)
			assert.Equal(t, UserID(tt.want), u)
			assert.Equal(t, tt.input, g.String())
		})
	}
}

func TestIsZero(t *testing.T) {
	assert.True(t, GuildID(0).IsZero())
	assert.False(t, UserID(7).IsZero())
	assert.ErrorIs(t, func() error { _, err := ParseUserID("0"); return err }(), ErrZeroID)
}
