package saml

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"strings"

	xrv "github.com/mattermost/xml-roundtrip-validator"
)

// ============================================================================
// SAML Metadata Types (SAML 2.0 Metadata)
// ============================================================================

// EntityDescriptor represents a SAML metadata EntityDescriptor. It is the
// configuration artifact exchanged out-of-band between an SP and its IdPs.
type EntityDescriptor struct {
	XMLName          xml.Name          `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	DS               string            `xml:"xmlns:ds,attr,omitempty"`
	EntityID         string            `xml:"entityID,attr"`
	ValidUntil       string            `xml:"validUntil,attr,omitempty"`
	CacheDuration    string            `xml:"cacheDuration,attr,omitempty"`
	SPSSODescriptor  *SPSSODescriptor  `xml:"SPSSODescriptor,omitempty"`
	IDPSSODescriptor *IDPSSODescriptor `xml:"IDPSSODescriptor,omitempty"`
}

// SPSSODescriptor represents the Service Provider SSO Descriptor
type SPSSODescriptor struct {
	XMLName                    xml.Name                   `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`
	ProtocolSupportEnumeration string                     `xml:"protocolSupportEnumeration,attr"`
	AuthnRequestsSigned        bool                       `xml:"AuthnRequestsSigned,attr,omitempty"`
	WantAssertionsSigned       bool                       `xml:"WantAssertionsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor            `xml:"KeyDescriptor,omitempty"`
	NameIDFormats              []string                   `xml:"NameIDFormat,omitempty"`
	AssertionConsumerServices  []AssertionConsumerService `xml:"AssertionConsumerService"`
	SingleLogoutServices       []Endpoint                 `xml:"SingleLogoutService,omitempty"`
}

// IDPSSODescriptor represents the Identity Provider SSO Descriptor
type IDPSSODescriptor struct {
	XMLName                    xml.Name        `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`
	ProtocolSupportEnumeration string          `xml:"protocolSupportEnumeration,attr"`
	WantAuthnRequestsSigned    bool            `xml:"WantAuthnRequestsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor `xml:"KeyDescriptor,omitempty"`
	NameIDFormats              []string        `xml:"NameIDFormat,omitempty"`
	SingleSignOnServices       []Endpoint      `xml:"SingleSignOnService"`
	SingleLogoutServices       []Endpoint      `xml:"SingleLogoutService,omitempty"`
}

// KeyDescriptor represents a key descriptor in metadata
type KeyDescriptor struct {
	Use     string  `xml:"use,attr,omitempty"` // "signing" or "encryption"
	KeyInfo KeyInfo `xml:"KeyInfo"`
}

// Endpoint represents a binding/location pair such as SingleSignOnService
// or SingleLogoutService.
type Endpoint struct {
	Binding          string `xml:"Binding,attr"`
	Location         string `xml:"Location,attr"`
	ResponseLocation string `xml:"ResponseLocation,attr,omitempty"`
}

// AssertionConsumerService represents an indexed Assertion Consumer Service
// endpoint.
type AssertionConsumerService struct {
	Binding   string `xml:"Binding,attr"`
	Location  string `xml:"Location,attr"`
	Index     int    `xml:"index,attr"`
	IsDefault bool   `xml:"isDefault,attr,omitempty"`
}

// ============================================================================
// Metadata Generation and Parsing
// ============================================================================

// SPMetadataConfig describes the hosted SP capabilities published in
// metadata.
type SPMetadataConfig struct {
	EntityID             string
	ACSURL               string
	SLOURL               string
	Certificate          *x509.Certificate
	WantAssertionsSigned bool
	AuthnRequestsSigned  bool
}

// NewSPMetadata builds the EntityDescriptor advertising this SP's
// capabilities and key material.
func NewSPMetadata(cfg SPMetadataConfig) *EntityDescriptor {
	md := &EntityDescriptor{
		DS:       NamespaceDS,
		EntityID: cfg.EntityID,
		SPSSODescriptor: &SPSSODescriptor{
			ProtocolSupportEnumeration: NamespaceSAMLp,
			AuthnRequestsSigned:        cfg.AuthnRequestsSigned,
			WantAssertionsSigned:       cfg.WantAssertionsSigned,
			NameIDFormats: []string{
				NameIDFormatEmail,
				NameIDFormatPersistent,
				NameIDFormatTransient,
				NameIDFormatUnspecified,
			},
			AssertionConsumerServices: []AssertionConsumerService{
				{
					Binding:   BindingHTTPPost,
					Location:  cfg.ACSURL,
					Index:     0,
					IsDefault: true,
				},
			},
		},
	}

	if cfg.SLOURL != "" {
		md.SPSSODescriptor.SingleLogoutServices = []Endpoint{
			{Binding: BindingHTTPPost, Location: cfg.SLOURL},
			{Binding: BindingHTTPRedirect, Location: cfg.SLOURL},
		}
	}

	// Per SAML Metadata, X509Certificate carries the base64 DER certificate,
	// not PEM.
	if cfg.Certificate != nil {
		certB64 := base64.StdEncoding.EncodeToString(cfg.Certificate.Raw)
		md.SPSSODescriptor.KeyDescriptors = []KeyDescriptor{
			{
				Use: "signing",
				KeyInfo: KeyInfo{
					X509Data: &X509Data{X509Certificate: certB64},
				},
			},
		}
	}

	return md
}

// MarshalMetadata serializes an EntityDescriptor with an XML declaration.
func MarshalMetadata(md *EntityDescriptor) ([]byte, error) {
	data, err := xml.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

// ParseMetadata parses an EntityDescriptor document. Parsing is strict: the
// document must survive a round-trip check unchanged and carry an entityID.
func ParseMetadata(data []byte) (*EntityDescriptor, error) {
	if err := xrv.Validate(bytes.NewReader(data)); err != nil {
		return nil, &MalformedMessageError{What: "metadata", Err: err}
	}

	var md EntityDescriptor
	if err := xml.Unmarshal(data, &md); err != nil {
		return nil, &MalformedMessageError{What: "metadata", Err: err}
	}
	if md.EntityID == "" {
		return nil, &MalformedMessageError{What: "metadata", Detail: "missing entityID"}
	}
	return &md, nil
}

// SigningCertificates extracts the signing certificates declared by an IdP
// role descriptor. Descriptors with no "use" attribute count as signing keys
// per SAML Metadata Section 2.4.1.1.
func (md *EntityDescriptor) SigningCertificates() ([]*x509.Certificate, error) {
	if md.IDPSSODescriptor == nil {
		return nil, &MalformedMessageError{What: "metadata", Detail: "no IDPSSODescriptor"}
	}

	var certs []*x509.Certificate
	for _, kd := range md.IDPSSODescriptor.KeyDescriptors {
		if kd.Use != "" && kd.Use != "signing" {
			continue
		}
		if kd.KeyInfo.X509Data == nil {
			continue
		}
		raw := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\n', '\r':
				return -1
			}
			return r
		}, kd.KeyInfo.X509Data.X509Certificate)

		der, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, &MalformedMessageError{What: "metadata", Detail: "undecodable X509Certificate", Err: err}
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, &MalformedMessageError{What: "metadata", Detail: "unparseable X509Certificate", Err: err}
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, &MalformedMessageError{What: "metadata", Detail: "no signing certificates"}
	}
	return certs, nil
}

// SSOEndpoint returns the IdP single sign-on endpoint for a binding.
func (md *EntityDescriptor) SSOEndpoint(binding string) (Endpoint, bool) {
	if md.IDPSSODescriptor == nil {
		return Endpoint{}, false
	}
	for _, ep := range md.IDPSSODescriptor.SingleSignOnServices {
		if ep.Binding == binding {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// SLOEndpoint returns the IdP single logout endpoint for a binding.
func (md *EntityDescriptor) SLOEndpoint(binding string) (Endpoint, bool) {
	if md.IDPSSODescriptor == nil {
		return Endpoint{}, false
	}
	for _, ep := range md.IDPSSODescriptor.SingleLogoutServices {
		if ep.Binding == binding {
			return ep, true
		}
	}
	return Endpoint{}, false
}
