package xmlsec

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testElement() *etree.Element {
	el := etree.NewElement("Data")
	el.CreateAttr("ID", "_data1")
	el.CreateElement("Value").SetText("hello")
	return el
}

// reparse serializes an element and reads it back, giving it the shape
// signed XML has after a trip over the wire. Verification operates on
// parsed documents; an in-memory element does not canonicalize
// identically to its serialized form.
func reparse(t *testing.T, el *etree.Element) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	data, err := doc.WriteToBytes()
	require.NoError(t, err)
	parsed := etree.NewDocument()
	require.NoError(t, parsed.ReadFromBytes(data))
	require.NotNil(t, parsed.Root())
	return parsed.Root()
}

func TestSignAndVerifyElement(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	signed, err := NewSigner(kp).SignElement(testElement())
	require.NoError(t, err)
	require.NotNil(t, childSignature(signed), "signed element must carry an enveloped signature")

	verifier := NewVerifier([]*x509.Certificate{kp.Certificate}, clockwork.NewRealClock())
	validated, err := verifier.VerifyEnveloped(reparse(t, signed))
	require.NoError(t, err)
	require.NotNil(t, validated)
	assert.Equal(t, "Data", validated.Tag)
	assert.Equal(t, "hello", validated.SelectElement("Value").Text())
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	signed, err := NewSigner(kp).SignElement(testElement())
	require.NoError(t, err)

	// Flip one byte of signed content after signing
	received := reparse(t, signed)
	received.SelectElement("Value").SetText("hellp")

	verifier := NewVerifier([]*x509.Certificate{kp.Certificate}, clockwork.NewRealClock())
	_, err = verifier.VerifyEnveloped(received)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSignature)

	var ce *CryptoError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindVerificationFailed, ce.Kind)
}

func TestVerifyReportsMissingSignature(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	verifier := NewVerifier([]*x509.Certificate{kp.Certificate}, clockwork.NewRealClock())
	_, err = verifier.VerifyEnveloped(testElement())
	assert.ErrorIs(t, err, ErrNoSignature)
}

func TestVerifyRejectsUntrustedSigner(t *testing.T) {
	signerKP, err := GenerateKeyPair("https://evil.example/saml", time.Hour)
	require.NoError(t, err)
	trustedKP, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	signed, err := NewSigner(signerKP).SignElement(testElement())
	require.NoError(t, err)

	verifier := NewVerifier([]*x509.Certificate{trustedKP.Certificate}, clockwork.NewRealClock())
	_, err = verifier.VerifyEnveloped(reparse(t, signed))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSignature)
}

func TestVerifyRejectsDowngradedSignatureAlgorithm(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	signed, err := NewSigner(kp).SignElement(testElement())
	require.NoError(t, err)

	// Rewrite the declared algorithm to SHA-1. The verifier must refuse
	// before attempting any cryptographic work.
	received := reparse(t, signed)
	sigEl := childSignature(received)
	require.NotNil(t, sigEl)
	sigMethod := childElement(childElement(sigEl, namespaceDS, "SignedInfo"), namespaceDS, "SignatureMethod")
	require.NotNil(t, sigMethod)
	sigMethod.RemoveAttr("Algorithm")
	sigMethod.CreateAttr("Algorithm", SignatureRSASHA1)

	verifier := NewVerifier([]*x509.Certificate{kp.Certificate}, clockwork.NewRealClock())
	_, err = verifier.VerifyEnveloped(received)
	require.Error(t, err)
	assert.ErrorIs(t, err, &CryptoError{Kind: KindAlgorithmNotPermitted})
}

func TestVerifyRejectsDowngradedDigestAlgorithm(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	signed, err := NewSigner(kp).SignElement(testElement())
	require.NoError(t, err)

	received := reparse(t, signed)
	sigEl := childSignature(received)
	require.NotNil(t, sigEl)
	signedInfo := childElement(sigEl, namespaceDS, "SignedInfo")
	refs := childElements(signedInfo, namespaceDS, "Reference")
	require.NotEmpty(t, refs)
	digestMethod := childElement(refs[0], namespaceDS, "DigestMethod")
	require.NotNil(t, digestMethod)
	digestMethod.RemoveAttr("Algorithm")
	digestMethod.CreateAttr("Algorithm", DigestSHA1)

	verifier := NewVerifier([]*x509.Certificate{kp.Certificate}, clockwork.NewRealClock())
	_, err = verifier.VerifyEnveloped(received)
	require.Error(t, err)
	assert.ErrorIs(t, err, &CryptoError{Kind: KindAlgorithmNotPermitted})
}

func TestSignerRefusesWeakAlgorithm(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	signer := NewSigner(kp)
	err = signer.SetAlgorithm(SignatureRSASHA1)
	assert.ErrorIs(t, err, &CryptoError{Kind: KindAlgorithmNotPermitted})

	// The signer keeps its previous algorithm after a refused switch
	signed, err := signer.SignElement(testElement())
	require.NoError(t, err)
	require.NotNil(t, signed)
}

func TestSignDocument(t *testing.T) {
	kp, err := GenerateKeyPair("https://idp.example/saml", time.Hour)
	require.NoError(t, err)

	doc := etree.NewDocument()
	doc.SetRoot(testElement())
	require.NoError(t, NewSigner(kp).SignDocument(doc))
	require.NotNil(t, childSignature(doc.Root()))
}
