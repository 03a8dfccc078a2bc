package saml

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	require.True(t, strings.HasPrefix(id, "_"), "identifiers must start with an underscore to be valid xs:ID values")
	assert.Len(t, id, 33) // "_" + 32 hex chars
}

func TestNewIDUniqueness(t *testing.T) {
	const n = 1_000_000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate identifier %s after %d draws", id, i)
		seen[id] = struct{}{}
	}
}

func TestFormatInstant(t *testing.T) {
	instant := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "2025-03-14T09:26:53Z", FormatInstant(instant))

	// Non-UTC inputs are normalized
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2025-03-14T09:26:53Z", FormatInstant(instant.In(est)))
}

func TestParseInstant(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
		ok    bool
	}{
		{"canonical", "2025-03-14T09:26:53Z", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC), true},
		{"fractional seconds", "2025-03-14T09:26:53.123Z", time.Date(2025, 3, 14, 9, 26, 53, 123000000, time.UTC), true},
		{"explicit offset", "2025-03-14T04:26:53-05:00", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC), true},
		{"date only", "2025-03-14", time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"garbage", "not-a-time", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInstant(tt.input)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNewAuthnRequest(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := NewAuthnRequest("https://sp.example/saml", "https://idp.example/sso", "https://sp.example/saml/SSO", now)

	assert.Equal(t, "2.0", req.Version)
	assert.Equal(t, "2025-06-01T12:00:00Z", req.IssueInstant)
	assert.Equal(t, "https://idp.example/sso", req.Destination)
	assert.Equal(t, "https://sp.example/saml/SSO", req.AssertionConsumerServiceURL)
	assert.Equal(t, BindingHTTPPost, req.ProtocolBinding)
	require.NotNil(t, req.Issuer)
	assert.Equal(t, "https://sp.example/saml", req.Issuer.Value)
	assert.True(t, strings.HasPrefix(req.ID, "_"))

	// Every request gets a fresh identifier
	other := NewAuthnRequest("https://sp.example/saml", "https://idp.example/sso", "https://sp.example/saml/SSO", now)
	assert.NotEqual(t, req.ID, other.ID)
}

func TestStatusIsSuccess(t *testing.T) {
	success := &Status{StatusCode: StatusCode{Value: StatusSuccess}}
	assert.True(t, success.IsSuccess())

	failed := &Status{StatusCode: StatusCode{
		Value:      StatusResponder,
		StatusCode: &StatusCode{Value: StatusAuthnFailed},
	}}
	assert.False(t, failed.IsSuccess())
	assert.Equal(t, StatusAuthnFailed, failed.SubStatus())

	var nilStatus *Status
	assert.False(t, nilStatus.IsSuccess())
	assert.Equal(t, "", nilStatus.SubStatus())
}
