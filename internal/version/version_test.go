package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestShortDevBuild(t *testing.T) {
	assert.Contains(t, Short(), ApplicationName)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "caststream/"+Version, UserAgent())
}
