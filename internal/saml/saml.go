package saml

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"time"
)

// SAML 2.0 XML Namespaces
const (
	NamespaceSAML     = "urn:oasis:names:tc:SAML:2.0:assertion"
	NamespaceSAMLp    = "urn:oasis:names:tc:SAML:2.0:protocol"
	NamespaceDS       = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceMetadata = "urn:oasis:names:tc:SAML:2.0:metadata"
)

// SAML 2.0 NameID Formats
const (
	NameIDFormatUnspecified = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	NameIDFormatEmail       = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	NameIDFormatPersistent  = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	NameIDFormatTransient   = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"
	NameIDFormatEntity      = "urn:oasis:names:tc:SAML:2.0:nameid-format:entity"
)

// SAML 2.0 Bindings
const (
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
)

// SAML 2.0 Status Codes
const (
	StatusSuccess         = "urn:oasis:names:tc:SAML:2.0:status:Success"
	StatusRequester       = "urn:oasis:names:tc:SAML:2.0:status:Requester"
	StatusResponder       = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	StatusVersionMismatch = "urn:oasis:names:tc:SAML:2.0:status:VersionMismatch"
	StatusAuthnFailed     = "urn:oasis:names:tc:SAML:2.0:status:AuthnFailed"
	StatusNoPassive       = "urn:oasis:names:tc:SAML:2.0:status:NoPassive"
	StatusRequestDenied   = "urn:oasis:names:tc:SAML:2.0:status:RequestDenied"
)

// SubjectConfirmationMethodBearer is the confirmation method used by the
// Web Browser SSO profile (SAML 2.0 Profiles Section 4.1.4.2).
const SubjectConfirmationMethodBearer = "urn:oasis:names:tc:SAML:2.0:cm:bearer"

// ============================================================================
// Core SAML Types
// ============================================================================

// Issuer represents the SAML Issuer element
type Issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Format  string   `xml:"Format,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

// NameID represents the SAML NameID element
type NameID struct {
	XMLName         xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	Format          string   `xml:"Format,attr,omitempty"`
	NameQualifier   string   `xml:"NameQualifier,attr,omitempty"`
	SPNameQualifier string   `xml:"SPNameQualifier,attr,omitempty"`
	Value           string   `xml:",chardata"`
}

// Subject represents the SAML Subject element
type Subject struct {
	XMLName             xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`
	NameID              *NameID              `xml:"NameID,omitempty"`
	SubjectConfirmation *SubjectConfirmation `xml:"SubjectConfirmation,omitempty"`
}

// SubjectConfirmation represents the SAML SubjectConfirmation element
type SubjectConfirmation struct {
	XMLName                 xml.Name                 `xml:"urn:oasis:names:tc:SAML:2.0:assertion SubjectConfirmation"`
	Method                  string                   `xml:"Method,attr"`
	SubjectConfirmationData *SubjectConfirmationData `xml:"SubjectConfirmationData,omitempty"`
}

// SubjectConfirmationData represents the SAML SubjectConfirmationData element
type SubjectConfirmationData struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion SubjectConfirmationData"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr,omitempty"`
	Recipient    string   `xml:"Recipient,attr,omitempty"`
	InResponseTo string   `xml:"InResponseTo,attr,omitempty"`
}

// Conditions represents the SAML Conditions element
type Conditions struct {
	XMLName             xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`
	NotBefore           string               `xml:"NotBefore,attr,omitempty"`
	NotOnOrAfter        string               `xml:"NotOnOrAfter,attr,omitempty"`
	AudienceRestriction *AudienceRestriction `xml:"AudienceRestriction,omitempty"`
}

// AudienceRestriction represents the SAML AudienceRestriction element
type AudienceRestriction struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AudienceRestriction"`
	Audience []string `xml:"Audience"`
}

// AuthnStatement represents the SAML AuthnStatement element
type AuthnStatement struct {
	XMLName             xml.Name      `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnStatement"`
	AuthnInstant        string        `xml:"AuthnInstant,attr"`
	SessionIndex        string        `xml:"SessionIndex,attr,omitempty"`
	SessionNotOnOrAfter string        `xml:"SessionNotOnOrAfter,attr,omitempty"`
	AuthnContext        *AuthnContext `xml:"AuthnContext"`
}

// AuthnContext represents the SAML AuthnContext element
type AuthnContext struct {
	XMLName              xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContext"`
	AuthnContextClassRef string   `xml:"AuthnContextClassRef"`
}

// AttributeStatement represents the SAML AttributeStatement element
type AttributeStatement struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`
	Attributes []Attribute `xml:"Attribute"`
}

// Attribute represents the SAML Attribute element
type Attribute struct {
	XMLName         xml.Name         `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`
	Name            string           `xml:"Name,attr"`
	NameFormat      string           `xml:"NameFormat,attr,omitempty"`
	FriendlyName    string           `xml:"FriendlyName,attr,omitempty"`
	AttributeValues []AttributeValue `xml:"AttributeValue"`
}

// AttributeValue represents the SAML AttributeValue element
type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`
	Value   string   `xml:",chardata"`
}

// ============================================================================
// XML Digital Signature Types
// ============================================================================

// Signature represents the XML digital signature element. The signature is
// never verified against these fields; verification happens on the DOM form
// of the document. The typed form exists so callers can see which algorithms
// a message claims to be signed with.
type Signature struct {
	XMLName        xml.Name   `xml:"http://www.w3.org/2000/09/xmldsig# Signature"`
	SignedInfo     SignedInfo `xml:"SignedInfo"`
	SignatureValue string     `xml:"SignatureValue"`
	KeyInfo        *KeyInfo   `xml:"KeyInfo,omitempty"`
}

// SignedInfo represents the SignedInfo element
type SignedInfo struct {
	XMLName                xml.Name        `xml:"http://www.w3.org/2000/09/xmldsig# SignedInfo"`
	CanonicalizationMethod AlgorithmMethod `xml:"CanonicalizationMethod"`
	SignatureMethod        AlgorithmMethod `xml:"SignatureMethod"`
	Reference              Reference       `xml:"Reference"`
}

// AlgorithmMethod identifies a signature, digest or canonicalization
// algorithm by URI.
type AlgorithmMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

// Reference represents the Reference element
type Reference struct {
	XMLName      xml.Name        `xml:"http://www.w3.org/2000/09/xmldsig# Reference"`
	URI          string          `xml:"URI,attr"`
	DigestMethod AlgorithmMethod `xml:"DigestMethod"`
	DigestValue  string          `xml:"DigestValue"`
}

// KeyInfo represents the KeyInfo element
type KeyInfo struct {
	XMLName  xml.Name  `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	X509Data *X509Data `xml:"X509Data,omitempty"`
}

// X509Data represents the X509Data element
type X509Data struct {
	XMLName         xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# X509Data"`
	X509Certificate string   `xml:"X509Certificate"`
}

// ============================================================================
// SAML Protocol Types
// ============================================================================

// AuthnRequest represents a SAML AuthnRequest message
type AuthnRequest struct {
	XMLName                     xml.Name      `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`
	SAMLP                       string        `xml:"xmlns:samlp,attr"`
	SAML                        string        `xml:"xmlns:saml,attr"`
	ID                          string        `xml:"ID,attr"`
	Version                     string        `xml:"Version,attr"`
	IssueInstant                string        `xml:"IssueInstant,attr"`
	Destination                 string        `xml:"Destination,attr,omitempty"`
	ProtocolBinding             string        `xml:"ProtocolBinding,attr,omitempty"`
	AssertionConsumerServiceURL string        `xml:"AssertionConsumerServiceURL,attr,omitempty"`
	ForceAuthn                  bool          `xml:"ForceAuthn,attr,omitempty"`
	IsPassive                   bool          `xml:"IsPassive,attr,omitempty"`
	Issuer                      *Issuer       `xml:"Issuer,omitempty"`
	NameIDPolicy                *NameIDPolicy `xml:"NameIDPolicy,omitempty"`
}

// NameIDPolicy represents the SAML NameIDPolicy element
type NameIDPolicy struct {
	XMLName     xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`
	Format      string   `xml:"Format,attr,omitempty"`
	AllowCreate bool     `xml:"AllowCreate,attr,omitempty"`
}

// Response represents a SAML Response message
type Response struct {
	XMLName      xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`
	ID           string       `xml:"ID,attr"`
	Version      string       `xml:"Version,attr"`
	IssueInstant string       `xml:"IssueInstant,attr"`
	Destination  string       `xml:"Destination,attr,omitempty"`
	InResponseTo string       `xml:"InResponseTo,attr,omitempty"`
	Issuer       *Issuer      `xml:"Issuer,omitempty"`
	Signature    *Signature   `xml:"Signature,omitempty"`
	Status       *Status      `xml:"Status"`
	Assertions   []*Assertion `xml:"Assertion,omitempty"`
}

// Status represents the SAML Status element
type Status struct {
	XMLName       xml.Name   `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`
	StatusCode    StatusCode `xml:"StatusCode"`
	StatusMessage string     `xml:"StatusMessage,omitempty"`
}

// StatusCode represents the SAML StatusCode element. Second-level codes
// nest inside the top-level code.
type StatusCode struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`
	Value      string      `xml:"Value,attr"`
	StatusCode *StatusCode `xml:"StatusCode,omitempty"`
}

// Assertion represents a SAML Assertion
type Assertion struct {
	XMLName            xml.Name            `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`
	ID                 string              `xml:"ID,attr"`
	Version            string              `xml:"Version,attr"`
	IssueInstant       string              `xml:"IssueInstant,attr"`
	Issuer             *Issuer             `xml:"Issuer"`
	Signature          *Signature          `xml:"Signature,omitempty"`
	Subject            *Subject            `xml:"Subject,omitempty"`
	Conditions         *Conditions         `xml:"Conditions,omitempty"`
	AuthnStatement     *AuthnStatement     `xml:"AuthnStatement,omitempty"`
	AttributeStatement *AttributeStatement `xml:"AttributeStatement,omitempty"`
}

// LogoutRequest represents a SAML LogoutRequest message
type LogoutRequest struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	SAMLP        string   `xml:"xmlns:samlp,attr"`
	SAML         string   `xml:"xmlns:saml,attr"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	Destination  string   `xml:"Destination,attr,omitempty"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr,omitempty"`
	Issuer       *Issuer  `xml:"Issuer,omitempty"`
	NameID       *NameID  `xml:"NameID,omitempty"`
	SessionIndex []string `xml:"SessionIndex,omitempty"`
}

// ============================================================================
// Helper Functions
// ============================================================================

// NewID generates a message identifier with 128 bits of entropy. The
// identifier doubles as the correlation key for InResponseTo checking, so it
// must be unguessable (SAML 2.0 Profiles Section 4.1.4.3).
func NewID() string {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		panic(fmt.Sprintf("saml: reading random bytes: %v", err))
	}
	return "_" + hex.EncodeToString(id)
}

// TimeFormat is the canonical serialization for SAML 2.0 instants.
// Per SAML 2.0 Core Section 1.3.3, times are UTC with a 'Z' indicator.
const TimeFormat = "2006-01-02T15:04:05Z"

// FormatInstant renders a time as a SAML instant.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// instantFormats lists accepted serializations for inbound instants. IdPs
// commonly emit fractional seconds even though Core 1.3.3 discourages them.
var instantFormats = []string{
	TimeFormat,
	"2006-01-02T15:04:05.999999999Z",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseInstant parses a SAML instant, tolerating fractional seconds and
// explicit offsets.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range instantFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("saml: invalid instant %q", s)
}

// NewAuthnRequest creates an AuthnRequest addressed to an IdP SSO endpoint.
// The response is requested over HTTP-POST at the given assertion consumer
// service URL.
func NewAuthnRequest(issuer, destination, acsURL string, now time.Time) *AuthnRequest {
	return &AuthnRequest{
		SAMLP:                       NamespaceSAMLp,
		SAML:                        NamespaceSAML,
		ID:                          NewID(),
		Version:                     "2.0",
		IssueInstant:                FormatInstant(now),
		Destination:                 destination,
		ProtocolBinding:             BindingHTTPPost,
		AssertionConsumerServiceURL: acsURL,
		Issuer: &Issuer{
			Value: issuer,
		},
		NameIDPolicy: &NameIDPolicy{
			Format:      NameIDFormatUnspecified,
			AllowCreate: true,
		},
	}
}

// NewLogoutRequest creates a LogoutRequest naming the principal and the
// sessions to terminate.
func NewLogoutRequest(issuer, destination string, nameID *NameID, sessionIndexes []string, now time.Time) *LogoutRequest {
	return &LogoutRequest{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           NewID(),
		Version:      "2.0",
		IssueInstant: FormatInstant(now),
		Destination:  destination,
		NotOnOrAfter: FormatInstant(now.Add(5 * time.Minute)),
		Issuer: &Issuer{
			Value: issuer,
		},
		NameID:       nameID,
		SessionIndex: sessionIndexes,
	}
}

// IsSuccess reports whether the top-level status code indicates success.
func (s *Status) IsSuccess() bool {
	return s != nil && s.StatusCode.Value == StatusSuccess
}

// SubStatus returns the second-level status code value, if any.
func (s *Status) SubStatus() string {
	if s == nil || s.StatusCode.StatusCode == nil {
		return ""
	}
	return s.StatusCode.StatusCode.Value
}
