package errcat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewrRoundTripsCategoryAndReason(t *testing.T) {
	err := DialErr.Newr(ReasonTCP, "connection refused")
	assert.Equal(t, DialErr, GetCategory(err))
	assert.Equal(t, ReasonTCP, GetReason(err))
	assert.EqualError(t, err, "connection refused")
}

func TestNewPreservesWrappedError(t *testing.T) {
	base := errors.New("boom")
	err := DNSErr.New(base)
	assert.Equal(t, DNSErr, GetCategory(err))
	assert.True(t, errors.Is(err, base))
}

func TestNewWithNilReturnsNil(t *testing.T) {
	assert.NoError(t, ConfigErr.New(nil))
}

func TestNewfSupportsWrapping(t *testing.T) {
	base := errors.New("inner")
	err := RuleErr.Newf("rule failed: %w", base)
	assert.Equal(t, RuleErr, GetCategory(err))
	assert.True(t, errors.Is(err, base))
}

func TestGetCategoryOnUncategorizedError(t *testing.T) {
	assert.Equal(t, RelayErr, GetCategory(errors.New("plain")))
}

func TestGetCategoryOnNilIsOK(t *testing.T) {
	assert.Equal(t, OK, GetCategory(nil))
}

func TestGetReasonDefaultsEmpty(t *testing.T) {
	assert.Equal(t, Reason(""), GetReason(errors.New("plain")))
}

func TestCategoryStringer(t *testing.T) {
	assert.Equal(t, "DialError", DialErr.String())
}

func TestCategorizedErrorFromNonErrorValue(t *testing.T) {
	err := ProviderErr.Newr(ReasonTimeout, fmt.Sprintf("refresh failed after %d attempts", 3))
	assert.Equal(t, ProviderErr, GetCategory(err))
	assert.Contains(t, err.Error(), "refresh failed")
}
