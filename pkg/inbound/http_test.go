package inbound

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setProxyAuth(req *http.Request, user, pass string) {
	req.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
}

func TestCheckProxyAuthAcceptsMatchingBasicCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	setProxyAuth(req, "alice", "hunter2")
	assert.True(t, checkProxyAuth(req, "alice", "hunter2"))
}

func TestCheckProxyAuthRejectsWrongPassword(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	setProxyAuth(req, "alice", "wrong")
	assert.False(t, checkProxyAuth(req, "alice", "hunter2"))
}

func TestCheckProxyAuthRejectsMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	assert.False(t, checkProxyAuth(req, "alice", "hunter2"))
}

func TestCheckProxyAuthRejectsNonBasicScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Proxy-Authorization", "Bearer sometoken")
	assert.False(t, checkProxyAuth(req, "alice", "hunter2"))
}
