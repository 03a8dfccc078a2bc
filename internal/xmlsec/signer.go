package xmlsec

import (
	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Signer produces enveloped XML signatures with exclusive canonicalization.
// Signing and verification must share one canonical form; any divergence
// breaks verification or opens the door to whitespace/comment injection.
type Signer struct {
	keyPair   *KeyPair
	algorithm string
}

// NewSigner creates a signer for the given key pair using RSA-SHA256.
func NewSigner(kp *KeyPair) *Signer {
	return &Signer{keyPair: kp, algorithm: SignatureRSASHA256}
}

// SetAlgorithm selects the signature algorithm. Algorithms below the
// permitted minimum are refused.
func (s *Signer) SetAlgorithm(uri string) error {
	if _, err := checkSignatureAlgorithm(uri); err != nil {
		return err
	}
	s.algorithm = uri
	return nil
}

// SignElement returns a copy of el carrying an enveloped signature over its
// canonicalized content. The signature references el's ID attribute.
func (s *Signer) SignElement(el *etree.Element) (*etree.Element, error) {
	ctx := dsig.NewDefaultSigningContext(s.keyPair)
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := ctx.SetSignatureMethod(s.algorithm); err != nil {
		return nil, &CryptoError{Kind: KindAlgorithmNotPermitted, Detail: s.algorithm, Err: err}
	}

	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		return nil, &CryptoError{Kind: KindVerificationFailed, Detail: "enveloped signing failed", Err: err}
	}
	return signed, nil
}

// SignDocument signs the document root in place.
func (s *Signer) SignDocument(doc *etree.Document) error {
	root := doc.Root()
	if root == nil {
		return &CryptoError{Kind: KindVerificationFailed, Detail: "document has no root"}
	}
	signed, err := s.SignElement(root)
	if err != nil {
		return err
	}
	doc.SetRoot(signed)
	return nil
}
