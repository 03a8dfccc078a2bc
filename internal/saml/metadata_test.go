package saml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPMetadataRoundTrip(t *testing.T) {
	md := NewSPMetadata(SPMetadataConfig{
		EntityID:             "https://sp.example/saml",
		ACSURL:               "https://sp.example/saml/SSO",
		SLOURL:               "https://sp.example/saml/logout",
		WantAssertionsSigned: true,
	})

	data, err := MarshalMetadata(md)
	require.NoError(t, err)

	parsed, err := ParseMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "https://sp.example/saml", parsed.EntityID)
	require.NotNil(t, parsed.SPSSODescriptor)
	assert.True(t, parsed.SPSSODescriptor.WantAssertionsSigned)
	require.Len(t, parsed.SPSSODescriptor.AssertionConsumerServices, 1)
	acs := parsed.SPSSODescriptor.AssertionConsumerServices[0]
	assert.Equal(t, BindingHTTPPost, acs.Binding)
	assert.Equal(t, "https://sp.example/saml/SSO", acs.Location)
	assert.Len(t, parsed.SPSSODescriptor.SingleLogoutServices, 2)
}

func TestParseMetadataRejectsMissingEntityID(t *testing.T) {
	data := []byte(`<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"></md:EntityDescriptor>`)
	_, err := ParseMetadata(data)
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Detail, "entityID")
}

func TestParseMetadataRejectsBrokenXML(t *testing.T) {
	_, err := ParseMetadata([]byte(`<md:EntityDescriptor`))
	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
}

func TestSigningCertificatesRequiresIdPRole(t *testing.T) {
	md := &EntityDescriptor{EntityID: "https://idp.example/saml"}
	_, err := md.SigningCertificates()
	require.Error(t, err)
}

func TestSSOEndpointSelection(t *testing.T) {
	md := &EntityDescriptor{
		EntityID: "https://idp.example/saml",
		IDPSSODescriptor: &IDPSSODescriptor{
			SingleSignOnServices: []Endpoint{
				{Binding: BindingHTTPRedirect, Location: "https://idp.example/sso/redirect"},
				{Binding: BindingHTTPPost, Location: "https://idp.example/sso/post"},
			},
		},
	}

	ep, ok := md.SSOEndpoint(BindingHTTPRedirect)
	require.True(t, ok)
	assert.Equal(t, "https://idp.example/sso/redirect", ep.Location)

	_, ok = md.SSOEndpoint("urn:oasis:names:tc:SAML:2.0:bindings:SOAP")
	assert.False(t, ok)
}
