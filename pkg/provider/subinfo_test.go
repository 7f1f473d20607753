package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSubscriptionUserinfoFullHeader(t *testing.T) {
	info := parseSubscriptionUserinfo("upload=100; download=200; total=1000; expire=1714000000")
	assert.Equal(t, int64(100), info.Upload)
	assert.Equal(t, int64(200), info.Download)
	assert.Equal(t, int64(1000), info.Total)
	assert.Equal(t, int64(1714000000), info.Expire)
}

func TestParseSubscriptionUserinfoIgnoresUnknownFields(t *testing.T) {
	info := parseSubscriptionUserinfo("upload=5; bogus=9; download=10")
	assert.Equal(t, int64(5), info.Upload)
	assert.Equal(t, int64(10), info.Download)
}

func TestParseSubscriptionUserinfoIgnoresMalformedValues(t *testing.T) {
	info := parseSubscriptionUserinfo("upload=not-a-number; download=20")
	assert.Equal(t, int64(0), info.Upload)
	assert.Equal(t, int64(20), info.Download)
}

func TestParseSubscriptionUserinfoEmptyHeader(t *testing.T) {
	info := parseSubscriptionUserinfo("")
	assert.Zero(t, info)
}
