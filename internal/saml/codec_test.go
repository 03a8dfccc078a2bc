package saml

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthnRequest() *AuthnRequest {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewAuthnRequest("https://sp.example/saml", "https://idp.example/sso", "https://sp.example/saml/SSO", now)
}

func TestAuthnRequestRedirectRoundTrip(t *testing.T) {
	req := testAuthnRequest()

	encoded, err := EncodeRedirect(req)
	require.NoError(t, err)

	decoded, err := DecodeAuthnRequest(encoded, BindingRedirect)
	require.NoError(t, err)
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Destination, decoded.Destination)
	assert.Equal(t, req.AssertionConsumerServiceURL, decoded.AssertionConsumerServiceURL)
	require.NotNil(t, decoded.Issuer)
	assert.Equal(t, "https://sp.example/saml", decoded.Issuer.Value)
}

func TestAuthnRequestPostRoundTrip(t *testing.T) {
	req := testAuthnRequest()

	encoded, err := EncodePost(req)
	require.NoError(t, err)

	decoded, err := DecodeAuthnRequest(encoded, BindingPost)
	require.NoError(t, err)
	assert.Equal(t, req.ID, decoded.ID)
}

func TestDecodeAuthnRequestErrorNamesArtifact(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"invalid base64", "not%%%base64"},
		{"invalid deflate", base64.StdEncoding.EncodeToString([]byte("<samlp:AuthnRequest/>"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAuthnRequest(tt.value, BindingRedirect)
			var malformed *MalformedMessageError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, "authn request", malformed.What)
		})
	}
}

func encodePostXML(t *testing.T, xmlData string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(xmlData))
}

func validResponseXML() string {
	return `<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ID="_resp1" Version="2.0" IssueInstant="2025-06-01T12:00:00Z">` +
		`<saml:Issuer>https://idp.example/saml</saml:Issuer>` +
		`<samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status>` +
		`<saml:Assertion ID="_a1" Version="2.0" IssueInstant="2025-06-01T12:00:00Z">` +
		`<saml:Issuer>https://idp.example/saml</saml:Issuer>` +
		`<saml:Subject><saml:NameID>alice@example.com</saml:NameID></saml:Subject>` +
		`</saml:Assertion>` +
		`</samlp:Response>`
}

func TestDecodeResponse(t *testing.T) {
	parsed, err := DecodeResponse(encodePostXML(t, validResponseXML()), BindingPost)
	require.NoError(t, err)

	assert.Equal(t, "_resp1", parsed.Response.ID)
	require.NotNil(t, parsed.Response.Status)
	assert.True(t, parsed.Response.Status.IsSuccess())
	require.Len(t, parsed.Response.Assertions, 1)
	assert.Equal(t, "_a1", parsed.Response.Assertions[0].ID)

	// The DOM form tracks the same bytes
	require.NotNil(t, parsed.Doc.Root())
	assert.Equal(t, "Response", parsed.Doc.Root().Tag)
}

func TestDecodeResponseRejectsInvalidBase64(t *testing.T) {
	_, err := DecodeResponse("not%%%base64", BindingPost)
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Detail, "base64")
}

func TestDecodeResponseRejectsInvalidDeflate(t *testing.T) {
	// Valid base64 of bytes that are not a deflate stream
	value := base64.StdEncoding.EncodeToString([]byte("<samlp:Response/>"))
	_, err := DecodeResponse(value, BindingRedirect)
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
}

func TestDecodeResponseRejectsWrongRoot(t *testing.T) {
	xmlData := `<samlp:LogoutRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_x" Version="2.0" IssueInstant="2025-06-01T12:00:00Z"/>`
	_, err := DecodeResponse(encodePostXML(t, xmlData), BindingPost)
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Detail, "samlp:Response")
}

func TestDecodeResponseRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want string
	}{
		{
			"missing ID",
			`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" Version="2.0" IssueInstant="2025-06-01T12:00:00Z"><samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status></samlp:Response>`,
			"missing ID",
		},
		{
			"wrong version",
			`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_r" Version="1.1" IssueInstant="2025-06-01T12:00:00Z"><samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status></samlp:Response>`,
			"unsupported version",
		},
		{
			"missing status",
			`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_r" Version="2.0" IssueInstant="2025-06-01T12:00:00Z"></samlp:Response>`,
			"missing Status",
		},
		{
			"invalid instant",
			`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_r" Version="2.0" IssueInstant="yesterday"><samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status></samlp:Response>`,
			"invalid IssueInstant",
		},
		{
			"assertion without subject",
			`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ID="_r" Version="2.0" IssueInstant="2025-06-01T12:00:00Z"><samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status><saml:Assertion ID="_a" Version="2.0" IssueInstant="2025-06-01T12:00:00Z"><saml:Issuer>x</saml:Issuer></saml:Assertion></samlp:Response>`,
			"missing Subject",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(encodePostXML(t, tt.xml), BindingPost)
			var malformed *MalformedMessageError
			require.ErrorAs(t, err, &malformed)
			assert.Contains(t, malformed.Detail, tt.want)
		})
	}
}

func TestDecodeResponseRejectsUnparseableXML(t *testing.T) {
	_, err := DecodeResponse(encodePostXML(t, "<unclosed"), BindingPost)
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
}

func TestRedirectEncodingIsCompressed(t *testing.T) {
	req := testAuthnRequest()

	redirect, err := EncodeRedirect(req)
	require.NoError(t, err)
	post, err := EncodePost(req)
	require.NoError(t, err)

	assert.Less(t, len(redirect), len(post), "redirect binding must deflate before base64")
	// POST payload carries an XML declaration; the redirect payload does not
	decoded, err := base64.StdEncoding.DecodeString(post)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(decoded), "<?xml"))
}
