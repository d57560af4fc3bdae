package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"1024", 1024, false},
		{"500KB", 500 * 1024, false},
		{"5MB", 5 * 1024 * 1024, false},
		{"1.5 GB", ByteSize(1.5 * 1024 * 1024 * 1024), false},
		{"512KiB", 512 * 1024, false},
		{"2g", 2 * 1024 * 1024 * 1024, false},
		{"1TB", 1024 * 1024 * 1024 * 1024, false},
		{"0", 0, false},
		{"", 0, true},
		{"MB", 0, true},
		{"-5MB", 0, true},
		{"5XB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "10MB", ByteSize(10*1024*1024).String())
	assert.Equal(t, "1GB", ByteSize(1024*1024*1024).String())
	assert.Equal(t, "1.5KB", ByteSize(1536).String())
	assert.Equal(t, "100B", ByteSize(100).String())
}

func TestByteSizeUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("10MB")))
	assert.Equal(t, ByteSize(10*1024*1024), b)

	require.Error(t, b.UnmarshalText([]byte("nope")))
}

func TestByteSizeJSONRoundTrip(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalJSON([]byte(`"5MB"`)))
	assert.Equal(t, ByteSize(5*1024*1024), b)

	require.NoError(t, b.UnmarshalJSON([]byte(`1048576`)))
	assert.Equal(t, ByteSize(1024*1024), b)

	out, err := ByteSize(5 * 1024 * 1024).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"5MB"`, string(out))
}
