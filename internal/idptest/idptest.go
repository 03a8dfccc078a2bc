// Package idptest implements a miniature identity provider for exercising
// the service-provider side: it publishes metadata and mints genuinely
// signed Responses with configurable defects.
package idptest

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"

	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/xmlsec"
)

// IdP is a signing identity provider backed by a freshly generated key
// pair.
type IdP struct {
	EntityID string
	SSOURL   string
	KeyPair  *xmlsec.KeyPair

	signer *xmlsec.Signer
	clock  clockwork.Clock
	users  map[string]*User
	mu     sync.RWMutex
}

// New creates an IdP with demo users and a self-signed signing key.
func New(entityID, ssoURL string, clock clockwork.Clock) (*IdP, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	kp, err := xmlsec.GenerateKeyPair(entityID, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	return &IdP{
		EntityID: entityID,
		SSOURL:   ssoURL,
		KeyPair:  kp,
		signer:   xmlsec.NewSigner(kp),
		clock:    clock,
		users:    demoUsers(),
	}, nil
}

// GetUser retrieves a user by ID.
func (idp *IdP) GetUser(id string) (*User, bool) {
	idp.mu.RLock()
	defer idp.mu.RUnlock()
	user, exists := idp.users[id]
	return user, exists
}

// AddUser registers an additional user.
func (idp *IdP) AddUser(u *User) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.users[u.ID] = u
}

// Metadata returns the IdP's EntityDescriptor, suitable for registering
// with a resolver.
func (idp *IdP) Metadata() *saml.EntityDescriptor {
	certB64 := base64.StdEncoding.EncodeToString(idp.KeyPair.Certificate.Raw)
	return &saml.EntityDescriptor{
		DS:       saml.NamespaceDS,
		EntityID: idp.EntityID,
		IDPSSODescriptor: &saml.IDPSSODescriptor{
			ProtocolSupportEnumeration: saml.NamespaceSAMLp,
			KeyDescriptors: []saml.KeyDescriptor{
				{
					Use: "signing",
					KeyInfo: saml.KeyInfo{
						X509Data: &saml.X509Data{X509Certificate: certB64},
					},
				},
			},
			NameIDFormats: []string{saml.NameIDFormatEmail},
			SingleSignOnServices: []saml.Endpoint{
				{Binding: saml.BindingHTTPRedirect, Location: idp.SSOURL},
				{Binding: saml.BindingHTTPPost, Location: idp.SSOURL},
			},
		},
	}
}

// ResponseOptions controls the shape of a minted Response. The zero value
// of each field means "well-formed"; tests flip individual fields to
// manufacture specific defects.
type ResponseOptions struct {
	UserID       string
	InResponseTo string
	Recipient    string // ACS URL placed in SubjectConfirmationData
	Audience     string // SP entity ID placed in AudienceRestriction

	// SignResponse and SignAssertion choose which elements carry a
	// signature. Both false produces an unsigned response.
	SignResponse  bool
	SignAssertion bool

	// StatusCode overrides the top-level status. Empty means Success.
	StatusCode string
	// SubStatusCode nests a second-level code when set.
	SubStatusCode string

	// NotBefore and NotOnOrAfter override the conditions window. Zero
	// values mean now-2m and now+5m.
	NotBefore    time.Time
	NotOnOrAfter time.Time
	// OmitConditions drops the Conditions element entirely.
	OmitConditions bool
	// OmitAudience keeps Conditions but drops the AudienceRestriction.
	OmitAudience bool
}

// MakeResponseDocument mints a Response and returns its DOM, signed per
// the options. Tests that tamper with bytes work from this form.
func (idp *IdP) MakeResponseDocument(opts ResponseOptions) (*etree.Document, error) {
	response, err := idp.buildResponse(opts)
	if err != nil {
		return nil, err
	}

	data, err := xml.Marshal(response)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()

	if opts.SignAssertion {
		var assertionEl *etree.Element
		for _, child := range root.ChildElements() {
			if child.Tag == "Assertion" && child.NamespaceURI() == saml.NamespaceSAML {
				assertionEl = child
				break
			}
		}
		if assertionEl == nil {
			return nil, fmt.Errorf("idptest: response has no assertion to sign")
		}
		signed, err := idp.signer.SignElement(assertionEl)
		if err != nil {
			return nil, err
		}
		root.RemoveChild(assertionEl)
		root.AddChild(signed)
	}

	if opts.SignResponse {
		signed, err := idp.signer.SignElement(root)
		if err != nil {
			return nil, err
		}
		doc.SetRoot(signed)
	}

	return doc, nil
}

// MakeResponse mints a Response and encodes it the way the POST binding
// delivers it.
func (idp *IdP) MakeResponse(opts ResponseOptions) (string, error) {
	doc, err := idp.MakeResponseDocument(opts)
	if err != nil {
		return "", err
	}
	return EncodeDocument(doc)
}

// EncodeDocument base64-encodes a Response document for POST delivery.
// Split out so tests can tamper with the DOM before encoding.
func EncodeDocument(doc *etree.Document) (string, error) {
	data, err := doc.WriteToBytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (idp *IdP) buildResponse(opts ResponseOptions) (*saml.Response, error) {
	now := idp.clock.Now()

	statusCode := opts.StatusCode
	if statusCode == "" {
		statusCode = saml.StatusSuccess
	}
	status := &saml.Status{StatusCode: saml.StatusCode{Value: statusCode}}
	if opts.SubStatusCode != "" {
		status.StatusCode.StatusCode = &saml.StatusCode{Value: opts.SubStatusCode}
	}

	response := &saml.Response{
		ID:           saml.NewID(),
		Version:      "2.0",
		IssueInstant: saml.FormatInstant(now),
		Destination:  opts.Recipient,
		InResponseTo: opts.InResponseTo,
		Issuer:       &saml.Issuer{Value: idp.EntityID},
		Status:       status,
	}

	if statusCode != saml.StatusSuccess {
		return response, nil
	}

	userID := opts.UserID
	if userID == "" {
		userID = "alice"
	}
	user, ok := idp.GetUser(userID)
	if !ok {
		return nil, fmt.Errorf("idptest: unknown user %q", userID)
	}

	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = now.Add(-2 * time.Minute)
	}
	notOnOrAfter := opts.NotOnOrAfter
	if notOnOrAfter.IsZero() {
		notOnOrAfter = now.Add(5 * time.Minute)
	}

	assertion := &saml.Assertion{
		ID:           saml.NewID(),
		Version:      "2.0",
		IssueInstant: saml.FormatInstant(now),
		Issuer:       &saml.Issuer{Value: idp.EntityID},
		Subject: &saml.Subject{
			NameID: &saml.NameID{
				Format: saml.NameIDFormatEmail,
				Value:  user.Email,
			},
			SubjectConfirmation: &saml.SubjectConfirmation{
				Method: saml.SubjectConfirmationMethodBearer,
				SubjectConfirmationData: &saml.SubjectConfirmationData{
					NotOnOrAfter: saml.FormatInstant(notOnOrAfter),
					Recipient:    opts.Recipient,
					InResponseTo: opts.InResponseTo,
				},
			},
		},
		AuthnStatement: &saml.AuthnStatement{
			AuthnInstant: saml.FormatInstant(now),
			SessionIndex: saml.NewID(),
			AuthnContext: &saml.AuthnContext{
				AuthnContextClassRef: "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport",
			},
		},
		AttributeStatement: &saml.AttributeStatement{
			Attributes: []saml.Attribute{
				{
					Name:            "email",
					AttributeValues: []saml.AttributeValue{{Value: user.Email}},
				},
				{
					Name:            "displayName",
					AttributeValues: []saml.AttributeValue{{Value: user.Name}},
				},
				{
					Name:            "department",
					AttributeValues: []saml.AttributeValue{{Value: user.Department}},
				},
			},
		},
	}

	if !opts.OmitConditions {
		conditions := &saml.Conditions{
			NotBefore:    saml.FormatInstant(notBefore),
			NotOnOrAfter: saml.FormatInstant(notOnOrAfter),
		}
		if !opts.OmitAudience {
			conditions.AudienceRestriction = &saml.AudienceRestriction{
				Audience: []string{opts.Audience},
			}
		}
		assertion.Conditions = conditions
	}

	response.Assertions = []*saml.Assertion{assertion}
	return response, nil
}
