package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{
			name: "progressive http ok",
			desc: Descriptor{Kind: KindProgressiveHTTP, URL: "https://cdn.example.com/movie.mkv"},
		},
		{
			name: "range http ok",
			desc: Descriptor{Kind: KindRangeHTTP, URL: "http://cdn.example.com/movie.mp4"},
		},
		{
			name:    "http missing url",
			desc:    Descriptor{Kind: KindProgressiveHTTP},
			wantErr: true,
		},
		{
			name:    "http bad scheme",
			desc:    Descriptor{Kind: KindProgressiveHTTP, URL: "ftp://host/file"},
			wantErr: true,
		},
		{
			name: "local block ok",
			desc: Descriptor{Kind: KindLocalBlock, BlocksKey: "k", BlockLength: 4, ByteLength: 100},
		},
		{
			name:    "local block missing key",
			desc:    Descriptor{Kind: KindLocalBlock, BlockLength: 4, ByteLength: 100},
			wantErr: true,
		},
		{
			name:    "local block zero length",
			desc:    Descriptor{Kind: KindLocalBlock, BlocksKey: "k", ByteLength: 100},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			desc:    Descriptor{Kind: "magnet"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnavailable)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDescriptorKeyStable(t *testing.T) {
	a := Descriptor{Kind: KindProgressiveHTTP, URL: "https://h/x?token=1", Title: "A"}
	b := Descriptor{Kind: KindProgressiveHTTP, URL: "https://h/x?token=1", Title: "B"}
	assert.Equal(t, a.Key(), b.Key(), "title must not affect identity")

	c := Descriptor{Kind: KindRangeHTTP, URL: "https://h/x?token=1"}
	assert.NotEqual(t, a.Key(), c.Key(), "kind is part of identity")

	blk := Descriptor{Kind: KindLocalBlock, BlocksKey: "k", BlockOffset: 1, BlockLength: 2, ByteOffset: 3, ByteLength: 4}
	blk2 := blk
	blk2.ByteOffset = 9
	assert.NotEqual(t, blk.Key(), blk2.Key())
}

func TestDescriptorRedacted(t *testing.T) {
	d := Descriptor{Kind: KindProgressiveHTTP, URL: "https://cdn.example.com/v/movie.mkv?token=secret&sig=abc"}
	red := d.Redacted()
	assert.NotContains(t, red, "secret")
	assert.NotContains(t, red, "sig=")
	assert.Contains(t, red, "cdn.example.com/v/movie.mkv")
}

func TestRedactInvalidURL(t *testing.T) {
	assert.Equal(t, "<invalid-url>", Redact("://bad"))
}
