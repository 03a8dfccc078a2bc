// Package sp ties the pieces together into a service-provider facade:
// it issues AuthnRequests, tracks their identifiers, and consumes the
// Responses that come back.
package sp

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ssokit/samlcore/internal/correlate"
	"github.com/ssokit/samlcore/internal/provider"
	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/validate"
)

// DefaultRequestLifetime bounds how long an issued AuthnRequest remains
// correlatable before it is swept.
const DefaultRequestLifetime = 5 * time.Minute

// Options configures a ServiceProvider facade.
type Options struct {
	// RequestLifetime bounds correlation of outstanding requests. Zero
	// means DefaultRequestLifetime.
	RequestLifetime time.Duration
	// Validation carries the response acceptance policy.
	Validation validate.Config
	// Clock drives every time comparison. Nil means the real clock.
	Clock clockwork.Clock
}

// ServiceProvider is the top-level entry point. One instance serves all
// hosted SP entities registered in its resolver.
type ServiceProvider struct {
	resolver  *provider.Resolver
	requests  *correlate.Store
	validator *validate.Validator
	clock     clockwork.Clock
}

// New wires a facade around a resolver.
func New(resolver *provider.Resolver, opts Options) *ServiceProvider {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	lifetime := opts.RequestLifetime
	if lifetime == 0 {
		lifetime = DefaultRequestLifetime
	}
	requests := correlate.NewStore(lifetime, clock)
	return &ServiceProvider{
		resolver:  resolver,
		requests:  requests,
		validator: validate.New(resolver, requests, clock, opts.Validation),
		clock:     clock,
	}
}

// LoginRequest is a prepared AuthnRequest, ready for delivery to the
// IdP's SSO endpoint over the chosen binding.
type LoginRequest struct {
	RequestID  string
	RelayState string
	Binding    saml.Binding
	// RedirectURL is the complete IdP URL including the encoded request;
	// set for the redirect binding.
	RedirectURL string
	// PostURL and PostPayload carry the auto-submit form target and the
	// base64 SAMLRequest value; set for the POST binding.
	PostURL     string
	PostPayload string
}

// BuildAuthnRequest prepares a login request from a hosted SP to one of
// its trusted IdPs and registers the request identifier for later
// correlation.
func (s *ServiceProvider) BuildAuthnRequest(spEntityID, idpEntityID string, binding saml.Binding) (*LoginRequest, error) {
	local, err := s.resolver.ResolveLocal(spEntityID)
	if err != nil {
		return nil, err
	}
	idp, err := s.resolver.ResolveRemote(spEntityID, idpEntityID)
	if err != nil {
		return nil, err
	}

	bindingURI := saml.BindingHTTPRedirect
	if binding == saml.BindingPost {
		bindingURI = saml.BindingHTTPPost
	}
	destination, ok := idp.SSOLocation(bindingURI)
	if !ok {
		return nil, fmt.Errorf("sp: identity provider %s has no SSO endpoint for %s", idpEntityID, bindingURI)
	}

	request := saml.NewAuthnRequest(spEntityID, destination, local.ACSURL, s.clock.Now())
	s.requests.Issue(request.ID, idpEntityID)

	login := &LoginRequest{
		RequestID:  request.ID,
		RelayState: uuid.NewString(),
		Binding:    binding,
	}

	switch binding {
	case saml.BindingPost:
		payload, err := saml.EncodePost(request)
		if err != nil {
			return nil, err
		}
		login.PostURL = destination
		login.PostPayload = payload
	default:
		encoded, err := saml.EncodeRedirect(request)
		if err != nil {
			return nil, err
		}
		target, err := url.Parse(destination)
		if err != nil {
			return nil, fmt.Errorf("sp: invalid SSO location %q: %w", destination, err)
		}
		query := target.Query()
		query.Set("SAMLRequest", encoded)
		query.Set("RelayState", login.RelayState)
		target.RawQuery = query.Encode()
		login.RedirectURL = target.String()
	}

	return login, nil
}

// ConsumeResponse decodes and validates an inbound SAMLResponse value as
// delivered over the given binding, returning the authenticated identity.
func (s *ServiceProvider) ConsumeResponse(value string, binding saml.Binding, spEntityID string) (*validate.Identity, error) {
	local, err := s.resolver.ResolveLocal(spEntityID)
	if err != nil {
		return nil, err
	}
	parsed, err := saml.DecodeResponse(value, binding)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(parsed, validate.RequestContext{
		SPEntityID: spEntityID,
		ACSURL:     local.ACSURL,
	})
}

// Metadata returns the serialized EntityDescriptor for a hosted SP.
func (s *ServiceProvider) Metadata(spEntityID string) ([]byte, error) {
	local, err := s.resolver.ResolveLocal(spEntityID)
	if err != nil {
		return nil, err
	}
	return saml.MarshalMetadata(local.Metadata())
}

// TrustedIdPs lists the entity IDs of the IdPs a hosted SP may
// authenticate against.
func (s *ServiceProvider) TrustedIdPs(spEntityID string) ([]string, error) {
	return s.resolver.ListTrustedRemotes(spEntityID)
}

// Outstanding reports whether a request identifier is still awaiting its
// response. Intended for diagnostics.
func (s *ServiceProvider) Outstanding(requestID string) bool {
	return s.requests.Outstanding(requestID)
}
