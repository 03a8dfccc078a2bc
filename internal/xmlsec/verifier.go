package xmlsec

import (
	"crypto/x509"
	"errors"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
)

const namespaceDS = "http://www.w3.org/2000/09/xmldsig#"

// Verifier checks enveloped XML signatures against a fixed set of trusted
// certificates. It is safe for concurrent use; the certificate set is
// immutable after construction.
type Verifier struct {
	certs []*x509.Certificate
	clock *dsig.Clock
}

// NewVerifier creates a verifier trusting exactly the given certificates.
// The clock governs certificate validity-period checks.
func NewVerifier(certs []*x509.Certificate, clock clockwork.Clock) *Verifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Verifier{
		certs: certs,
		clock: dsig.NewFakeClock(clock),
	}
}

// VerifyEnveloped checks the enveloped signature on el and returns the
// validated element. Downstream callers must interpret only the returned
// node set: the original document may contain unsigned siblings planted
// around the signed content (signature wrapping).
//
// Returns ErrNoSignature when el carries no signature, so callers applying
// a deployment policy (response-signed, assertion-signed, either) can tell
// "unsigned" apart from "signed but wrong".
//
// el must come from a parsed document. An element assembled in memory does
// not canonicalize identically to its serialized form, so verifying one
// fails even when the signature is good.
func (v *Verifier) VerifyEnveloped(el *etree.Element) (*etree.Element, error) {
	sigEl := childSignature(el)
	if sigEl == nil {
		return nil, ErrNoSignature
	}

	// Refuse weak or unknown algorithms before any cryptographic work, so a
	// downgrade attempt fails identically whether or not the signature
	// would otherwise verify.
	if err := v.checkDeclaredAlgorithms(sigEl); err != nil {
		return nil, err
	}

	ctx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: v.certs})
	ctx.Clock = v.clock

	validated, err := ctx.Validate(el)
	if err != nil {
		if errors.Is(err, dsig.ErrMissingSignature) {
			return nil, ErrNoSignature
		}
		return nil, &CryptoError{Kind: KindVerificationFailed, Err: err}
	}
	return validated, nil
}

// checkDeclaredAlgorithms validates the SignatureMethod and DigestMethod
// URIs declared inside a Signature element.
func (v *Verifier) checkDeclaredAlgorithms(sigEl *etree.Element) error {
	signedInfo := childElement(sigEl, namespaceDS, "SignedInfo")
	if signedInfo == nil {
		return &CryptoError{Kind: KindMalformedSignature, Detail: "signature has no SignedInfo"}
	}

	sigMethod := childElement(signedInfo, namespaceDS, "SignatureMethod")
	if sigMethod == nil {
		return &CryptoError{Kind: KindMalformedSignature, Detail: "SignedInfo has no SignatureMethod"}
	}
	if _, err := checkSignatureAlgorithm(sigMethod.SelectAttrValue("Algorithm", "")); err != nil {
		return err
	}

	for _, ref := range childElements(signedInfo, namespaceDS, "Reference") {
		digestMethod := childElement(ref, namespaceDS, "DigestMethod")
		if digestMethod == nil {
			return &CryptoError{Kind: KindMalformedSignature, Detail: "Reference has no DigestMethod"}
		}
		if _, err := checkDigestAlgorithm(digestMethod.SelectAttrValue("Algorithm", "")); err != nil {
			return err
		}
	}
	return nil
}

// childSignature returns the direct ds:Signature child of el, if any.
// Enveloped signatures are always direct children of the signed element.
func childSignature(el *etree.Element) *etree.Element {
	return childElement(el, namespaceDS, "Signature")
}

func childElement(el *etree.Element, ns, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag && child.NamespaceURI() == ns {
			return child
		}
	}
	return nil
}

func childElements(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag && child.NamespaceURI() == ns {
			out = append(out, child)
		}
	}
	return out
}
