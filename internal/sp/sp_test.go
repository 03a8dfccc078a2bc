package sp_test

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssokit/samlcore/internal/idptest"
	"github.com/ssokit/samlcore/internal/provider"
	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/sp"
	"github.com/ssokit/samlcore/internal/validate"
	"github.com/ssokit/samlcore/internal/xmlsec"
)

const (
	spEntityID  = "https://sp.example/saml"
	acsURL      = "https://sp.example/saml/SSO"
	idpEntityID = "https://idp.example/saml"
	idpSSOURL   = "https://idp.example/sso"
)

func newFacade(t *testing.T, opts sp.Options) (*sp.ServiceProvider, *idptest.IdP, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Now().UTC().Truncate(time.Second))
	opts.Clock = clock

	idp, err := idptest.New(idpEntityID, idpSSOURL, clock)
	require.NoError(t, err)

	kp, err := xmlsec.GenerateKeyPair(spEntityID, time.Hour)
	require.NoError(t, err)

	resolver := provider.NewResolver()
	require.NoError(t, resolver.RegisterLocal(&provider.ServiceProvider{
		EntityID: spEntityID,
		ACSURL:   acsURL,
		KeyPair:  kp,
	}))
	require.NoError(t, resolver.RegisterRemoteMetadata(spEntityID, idp.Metadata()))

	return sp.New(resolver, opts), idp, clock
}

func TestFullSSOFlow(t *testing.T) {
	facade, idp, _ := newFacade(t, sp.Options{})

	// SP side: prepare the login redirect
	login, err := facade.BuildAuthnRequest(spEntityID, idpEntityID, saml.BindingRedirect)
	require.NoError(t, err)
	require.NotEmpty(t, login.RedirectURL)
	assert.True(t, strings.HasPrefix(login.RedirectURL, idpSSOURL))
	assert.NotEmpty(t, login.RelayState)
	assert.True(t, facade.Outstanding(login.RequestID))

	// IdP side: decode the request the browser would deliver
	target, err := url.Parse(login.RedirectURL)
	require.NoError(t, err)
	samlRequest := target.Query().Get("SAMLRequest")
	require.NotEmpty(t, samlRequest)
	assert.Equal(t, login.RelayState, target.Query().Get("RelayState"))

	request, err := saml.DecodeAuthnRequest(samlRequest, saml.BindingRedirect)
	require.NoError(t, err)
	assert.Equal(t, login.RequestID, request.ID)
	assert.Equal(t, acsURL, request.AssertionConsumerServiceURL)
	require.NotNil(t, request.Issuer)
	assert.Equal(t, spEntityID, request.Issuer.Value)

	// IdP authenticates alice and posts back a signed response
	encoded, err := idp.MakeResponse(idptest.ResponseOptions{
		UserID:       "alice",
		InResponseTo: request.ID,
		Recipient:    request.AssertionConsumerServiceURL,
		Audience:     spEntityID,
		SignResponse: true,
	})
	require.NoError(t, err)

	// SP side: consume it
	identity, err := facade.ConsumeResponse(encoded, saml.BindingPost, spEntityID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", identity.NameID)
	assert.Equal(t, idpEntityID, identity.IdPEntityID)
	assert.False(t, facade.Outstanding(login.RequestID))

	// The same payload cannot be consumed twice
	_, err = facade.ConsumeResponse(encoded, saml.BindingPost, spEntityID)
	var failure *validate.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, validate.ReasonReplay, failure.Reason)
}

func TestBuildAuthnRequestPostBinding(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	login, err := facade.BuildAuthnRequest(spEntityID, idpEntityID, saml.BindingPost)
	require.NoError(t, err)
	assert.Equal(t, idpSSOURL, login.PostURL)
	require.NotEmpty(t, login.PostPayload)
	assert.Empty(t, login.RedirectURL)

	request, err := saml.DecodeAuthnRequest(login.PostPayload, saml.BindingPost)
	require.NoError(t, err)
	assert.Equal(t, login.RequestID, request.ID)
}

func TestBuildAuthnRequestUnknownIdP(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	_, err := facade.BuildAuthnRequest(spEntityID, "https://unknown.example/saml", saml.BindingRedirect)
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestConsumeResponseUnknownSP(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	_, err := facade.ConsumeResponse("irrelevant", saml.BindingPost, "https://unknown-sp.example/saml")
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestConsumeResponseMalformed(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	_, err := facade.ConsumeResponse("@@@not-base64@@@", saml.BindingPost, spEntityID)
	var malformed *saml.MalformedMessageError
	assert.ErrorAs(t, err, &malformed)
}

func TestRequestExpiresAfterLifetime(t *testing.T) {
	facade, idp, clock := newFacade(t, sp.Options{RequestLifetime: time.Minute})

	login, err := facade.BuildAuthnRequest(spEntityID, idpEntityID, saml.BindingRedirect)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	encoded, err := idp.MakeResponse(idptest.ResponseOptions{
		InResponseTo: login.RequestID,
		Recipient:    acsURL,
		Audience:     spEntityID,
		SignResponse: true,
	})
	require.NoError(t, err)

	_, err = facade.ConsumeResponse(encoded, saml.BindingPost, spEntityID)
	var failure *validate.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, validate.ReasonUnsolicited, failure.Reason)
}

func TestMetadata(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	data, err := facade.Metadata(spEntityID)
	require.NoError(t, err)

	md, err := saml.ParseMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, spEntityID, md.EntityID)
	require.NotNil(t, md.SPSSODescriptor)
	require.Len(t, md.SPSSODescriptor.AssertionConsumerServices, 1)
	assert.Equal(t, acsURL, md.SPSSODescriptor.AssertionConsumerServices[0].Location)
}

func TestTrustedIdPs(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	ids, err := facade.TrustedIdPs(spEntityID)
	require.NoError(t, err)
	assert.Equal(t, []string{idpEntityID}, ids)
}

func TestRelayStateIsUniquePerLogin(t *testing.T) {
	facade, _, _ := newFacade(t, sp.Options{})

	first, err := facade.BuildAuthnRequest(spEntityID, idpEntityID, saml.BindingRedirect)
	require.NoError(t, err)
	second, err := facade.BuildAuthnRequest(spEntityID, idpEntityID, saml.BindingRedirect)
	require.NoError(t, err)

	assert.NotEqual(t, first.RelayState, second.RelayState)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}
