package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize_ValidInputs(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"", 0},
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"320kib", 327680},
		{"10MiB", 10_485_760},
		{"5MB", 5_000_000},
		{"1.5MiB", 1_572_864},
		{"1GiB", 1_073_741_824},
		{"1TB", 1_000_000_000_000},
		{" 100B ", 100},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseSize_InvalidInputs(t *testing.T) {
	for _, input := range []string{"abc", "MB", "-1", "-5MB", "ten MiB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			assert.Error(t, err)
		})
	}
}

func TestChunkBytes(t *testing.T) {
	tc := TransfersConfig{ChunkSize: "640KiB"}
	assert.Equal(t, int64(655360), tc.ChunkBytes())

	tc.ChunkSize = "garbage"
	assert.Zero(t, tc.ChunkBytes())
}
