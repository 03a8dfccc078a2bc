// Package validate renders the accept/reject verdict on a parsed Response:
// status, correlation, issuer, signature, conditions, audience and subject
// confirmation, in that order, short-circuiting on the first failure
// (SAML 2.0 Profiles Section 4.1.4.3).
package validate

import (
	"encoding/xml"
	"errors"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"

	"github.com/ssokit/samlcore/internal/correlate"
	"github.com/ssokit/samlcore/internal/provider"
	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/xmlsec"
)

// SigningPolicy selects which element must carry a valid signature.
type SigningPolicy string

const (
	// PolicyEitherSigned accepts a valid signature on the Response or on
	// the Assertion. This is the default; deployments wanting a stricter
	// posture should pin one of the other two policies explicitly.
	PolicyEitherSigned SigningPolicy = "either"
	// PolicyResponseSigned requires the Response envelope to be signed.
	PolicyResponseSigned SigningPolicy = "response"
	// PolicyAssertionSigned requires the Assertion itself to be signed.
	PolicyAssertionSigned SigningPolicy = "assertion"
)

// DefaultClockSkew is the tolerance applied to every time-window check.
const DefaultClockSkew = 90 * time.Second

// Config carries the deployment policy knobs.
type Config struct {
	SigningPolicy    SigningPolicy
	ClockSkew        time.Duration
	AllowUnsolicited bool
}

// RequestContext is what the web layer knows about the inbound HTTP
// request: which hosted SP it addressed and the URL the response was
// delivered to (checked against the Recipient field).
type RequestContext struct {
	SPEntityID string
	ACSURL     string
}

// Attribute is one identity attribute with its ordered values.
type Attribute struct {
	Name         string
	FriendlyName string
	Values       []string
}

// Identity is the successful outcome: the authenticated principal as
// asserted by the IdP. Immutable; the validator retains nothing after
// producing it.
type Identity struct {
	NameID       string
	NameIDFormat string
	Attributes   []Attribute
	AuthnInstant time.Time
	SessionIndex string
	IdPEntityID  string
}

// Get returns the first value of the named attribute.
func (id *Identity) Get(name string) string {
	for _, a := range id.Attributes {
		if a.Name == name && len(a.Values) > 0 {
			return a.Values[0]
		}
	}
	return ""
}

// Validator checks Responses for the hosted SPs in a resolver. Stateless
// across calls except for the correlation store it delegates to.
type Validator struct {
	resolver *provider.Resolver
	requests *correlate.Store
	clock    clockwork.Clock
	cfg      Config
}

// New creates a validator. A zero SigningPolicy means PolicyEitherSigned; a
// zero ClockSkew means DefaultClockSkew.
func New(resolver *provider.Resolver, requests *correlate.Store, clock clockwork.Clock, cfg Config) *Validator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.SigningPolicy == "" {
		cfg.SigningPolicy = PolicyEitherSigned
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	return &Validator{
		resolver: resolver,
		requests: requests,
		clock:    clock,
		cfg:      cfg,
	}
}

// Validate runs the ordered checks over a parsed Response and produces
// either the authenticated identity or a *Failure naming the first check
// that refused it.
func (v *Validator) Validate(parsed *saml.ParsedResponse, rc RequestContext) (*Identity, error) {
	response := parsed.Response

	// 1. The IdP must report success. A failed status carries no usable
	// assertions.
	if !response.Status.IsSuccess() {
		code := ""
		if response.Status != nil {
			code = response.Status.StatusCode.Value
		}
		return nil, &Failure{Reason: ReasonIdPFailure, StatusCode: code, Detail: response.Status.SubStatus()}
	}

	// 2. Correlate InResponseTo with an outstanding request. An empty
	// identifier skips correlation only when the deployment explicitly
	// accepts IdP-initiated responses.
	var entry *correlate.Entry
	switch {
	case response.InResponseTo == "" && v.cfg.AllowUnsolicited:
		// IdP-initiated; nothing to correlate.
	case response.InResponseTo == "":
		return nil, failf(ReasonUnsolicited, "response carries no InResponseTo")
	default:
		e, err := v.requests.Consume(response.InResponseTo)
		switch {
		case errors.Is(err, correlate.ErrReplayDetected):
			return nil, failf(ReasonReplay, "identifier %s already consumed", response.InResponseTo)
		case errors.Is(err, correlate.ErrUnsolicitedResponse):
			return nil, failf(ReasonUnsolicited, "identifier %s not outstanding", response.InResponseTo)
		case err != nil:
			return nil, &Failure{Reason: ReasonUnsolicited, Err: err}
		}
		entry = &e
	}

	// 3. The issuer must be an IdP this SP trusts, and for correlated
	// responses it must be the IdP the request was sent to.
	if response.Issuer == nil || response.Issuer.Value == "" {
		return nil, failf(ReasonIssuerMismatch, "response carries no Issuer")
	}
	issuer := response.Issuer.Value
	if entry != nil && issuer != entry.IdPEntityID {
		return nil, failf(ReasonIssuerMismatch, "response issued by %s, request was sent to %s", issuer, entry.IdPEntityID)
	}
	idp, err := v.resolver.ResolveRemote(rc.SPEntityID, issuer)
	if err != nil {
		return nil, failf(ReasonIssuerMismatch, "issuer %s is not a trusted identity provider", issuer)
	}

	// 4. Signature, per the deployment policy. The assertion used from
	// here on is re-read from the validated node set so that an attacker
	// cannot relocate a validly signed assertion under an unsigned
	// envelope and have the unsigned copy interpreted.
	assertion, err := v.verifySignatures(parsed, idp)
	if err != nil {
		return nil, err
	}

	if assertion.Issuer == nil || assertion.Issuer.Value != idp.EntityID {
		return nil, failf(ReasonIssuerMismatch, "assertion issuer does not match %s", idp.EntityID)
	}

	now := v.clock.Now()

	// 5. Conditions window, inclusive at exactly the skew boundary.
	if err := v.checkConditions(assertion.Conditions, now); err != nil {
		return nil, err
	}

	// 6. This SP must be in the audience.
	if err := checkAudience(assertion.Conditions, rc.SPEntityID); err != nil {
		return nil, err
	}

	// 7. Subject confirmation: bearer data must name our ACS URL and still
	// be fresh.
	if err := v.checkSubjectConfirmation(assertion, response.InResponseTo, rc, now); err != nil {
		return nil, err
	}

	return buildIdentity(assertion, idp.EntityID)
}

// verifySignatures enforces the signing policy and returns the assertion
// decoded from validated XML.
func (v *Validator) verifySignatures(parsed *saml.ParsedResponse, idp *provider.IdentityProvider) (*saml.Assertion, error) {
	verifier := xmlsec.NewVerifier(idp.SigningCerts, v.clock)
	root := parsed.Doc.Root()

	responseSigned := false
	var trustedRoot *etree.Element

	validated, err := verifier.VerifyEnveloped(root)
	switch {
	case err == nil:
		responseSigned = true
		trustedRoot = validated
	case errors.Is(err, xmlsec.ErrNoSignature):
		// Acceptable depending on policy; the assertion may be signed.
	default:
		// A signature that is present but wrong is never ignored, whatever
		// the policy says.
		return nil, &Failure{Reason: ReasonSignatureInvalid, Detail: "response signature", Err: err}
	}

	if v.cfg.SigningPolicy == PolicyResponseSigned && !responseSigned {
		return nil, failf(ReasonSignatureInvalid, "policy requires a signed response")
	}

	// Locate the assertion element. When the response envelope is signed,
	// assertions inside the validated envelope are authenticated by that
	// outer signature.
	searchRoot := root
	if trustedRoot != nil {
		searchRoot = trustedRoot
	}
	assertionEls := childAssertions(searchRoot)
	switch {
	case len(assertionEls) == 0:
		return nil, failf(ReasonMalformed, "response carries no assertion")
	case len(assertionEls) > 1:
		return nil, failf(ReasonMalformed, "response carries %d assertions", len(assertionEls))
	}
	assertionEl := assertionEls[0]

	needAssertionSig := v.cfg.SigningPolicy == PolicyAssertionSigned ||
		(v.cfg.SigningPolicy == PolicyEitherSigned && !responseSigned)

	if needAssertionSig || !responseSigned {
		validatedAssertion, err := verifier.VerifyEnveloped(assertionEl)
		switch {
		case err == nil:
			assertionEl = validatedAssertion
		case errors.Is(err, xmlsec.ErrNoSignature):
			if needAssertionSig {
				return nil, failf(ReasonSignatureInvalid, "policy requires a signed assertion")
			}
		default:
			return nil, &Failure{Reason: ReasonSignatureInvalid, Detail: "assertion signature", Err: err}
		}
	}

	return decodeAssertion(assertionEl)
}

func (v *Validator) checkConditions(c *saml.Conditions, now time.Time) error {
	if c == nil {
		return failf(ReasonMalformed, "assertion carries no Conditions")
	}
	skew := v.cfg.ClockSkew

	if c.NotBefore != "" {
		notBefore, err := saml.ParseInstant(c.NotBefore)
		if err != nil {
			return &Failure{Reason: ReasonMalformed, Detail: "invalid NotBefore", Err: err}
		}
		if now.Before(notBefore.Add(-skew)) {
			return failf(ReasonNotYetValid, "assertion not valid before %s", c.NotBefore)
		}
	}
	if c.NotOnOrAfter != "" {
		notOnOrAfter, err := saml.ParseInstant(c.NotOnOrAfter)
		if err != nil {
			return &Failure{Reason: ReasonMalformed, Detail: "invalid NotOnOrAfter", Err: err}
		}
		if now.After(notOnOrAfter.Add(skew)) {
			return failf(ReasonExpired, "assertion expired at %s", c.NotOnOrAfter)
		}
	}
	return nil
}

func checkAudience(c *saml.Conditions, spEntityID string) error {
	if c == nil || c.AudienceRestriction == nil {
		return failf(ReasonAudienceMismatch, "assertion carries no AudienceRestriction")
	}
	for _, audience := range c.AudienceRestriction.Audience {
		if audience == spEntityID {
			return nil
		}
	}
	return failf(ReasonAudienceMismatch, "audience restriction does not include %s", spEntityID)
}

func (v *Validator) checkSubjectConfirmation(a *saml.Assertion, inResponseTo string, rc RequestContext, now time.Time) error {
	sc := a.Subject.SubjectConfirmation
	if sc == nil || sc.SubjectConfirmationData == nil {
		return nil
	}
	data := sc.SubjectConfirmationData

	if data.Recipient != "" && data.Recipient != rc.ACSURL {
		return failf(ReasonSubjectConfirmation, "recipient %s does not match %s", data.Recipient, rc.ACSURL)
	}
	if data.InResponseTo != "" && data.InResponseTo != inResponseTo {
		return failf(ReasonSubjectConfirmation, "subject confirmation references a different request")
	}
	if data.NotOnOrAfter != "" {
		notOnOrAfter, err := saml.ParseInstant(data.NotOnOrAfter)
		if err != nil {
			return &Failure{Reason: ReasonMalformed, Detail: "invalid SubjectConfirmationData NotOnOrAfter", Err: err}
		}
		if now.After(notOnOrAfter.Add(v.cfg.ClockSkew)) {
			return failf(ReasonSubjectConfirmation, "subject confirmation expired at %s", data.NotOnOrAfter)
		}
	}
	return nil
}

func buildIdentity(a *saml.Assertion, idpEntityID string) (*Identity, error) {
	nameID := a.Subject.NameID
	if nameID == nil || nameID.Value == "" {
		return nil, failf(ReasonMalformed, "assertion subject carries no NameID")
	}

	identity := &Identity{
		NameID:       nameID.Value,
		NameIDFormat: nameID.Format,
		IdPEntityID:  idpEntityID,
	}

	if a.AuthnStatement != nil {
		identity.SessionIndex = a.AuthnStatement.SessionIndex
		if a.AuthnStatement.AuthnInstant != "" {
			instant, err := saml.ParseInstant(a.AuthnStatement.AuthnInstant)
			if err != nil {
				return nil, &Failure{Reason: ReasonMalformed, Detail: "invalid AuthnInstant", Err: err}
			}
			identity.AuthnInstant = instant
		}
	}

	if a.AttributeStatement != nil {
		for _, attr := range a.AttributeStatement.Attributes {
			out := Attribute{
				Name:         attr.Name,
				FriendlyName: attr.FriendlyName,
			}
			for _, v := range attr.AttributeValues {
				out.Values = append(out.Values, v.Value)
			}
			identity.Attributes = append(identity.Attributes, out)
		}
	}

	return identity, nil
}

// decodeAssertion re-serializes a validated assertion element and decodes
// it into the typed model. Only validated bytes reach this point.
func decodeAssertion(el *etree.Element) (*saml.Assertion, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, &Failure{Reason: ReasonMalformed, Detail: "re-serializing assertion", Err: err}
	}

	var assertion saml.Assertion
	if err := xml.Unmarshal(data, &assertion); err != nil {
		return nil, &Failure{Reason: ReasonMalformed, Detail: "decoding assertion", Err: err}
	}
	if assertion.Subject == nil || assertion.Subject.NameID == nil {
		return nil, failf(ReasonMalformed, "assertion carries no Subject")
	}
	return &assertion, nil
}

func childAssertions(el *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == "Assertion" && child.NamespaceURI() == saml.NamespaceSAML {
			out = append(out, child)
		}
	}
	return out
}
