package xmlsec

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"
)

// KeyPair bundles an RSA signing key with its certificate. It satisfies
// goxmldsig's X509KeyStore so it can be handed straight to a signing
// context.
type KeyPair struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
}

// GetKeyPair implements dsig.X509KeyStore.
func (kp *KeyPair) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	if kp.PrivateKey == nil || kp.Certificate == nil {
		return nil, nil, &CryptoError{Kind: KindMalformedKey, Detail: "incomplete key pair"}
	}
	return kp.PrivateKey, kp.Certificate.Raw, nil
}

// ParsePrivateKeyPEM parses an RSA private key from PEM, accepting PKCS#1
// and PKCS#8 encodings.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "no PEM block found"}
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "unparseable private key", Err: err}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "private key is not RSA"}
	}
	return key, nil
}

// ParseCertificatePEM parses an X.509 certificate from PEM.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "no PEM block found"}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "unparseable certificate", Err: err}
	}
	return cert, nil
}

// GenerateKeyPair creates a fresh RSA key with a self-signed certificate
// whose subject names the entity. Deployments normally load provisioned
// key material instead; self-signed pairs cover tests and first-run
// setups.
func GenerateKeyPair(entityID string, validFor time.Duration) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "key generation failed", Err: err}
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "serial generation failed", Err: err}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: entityID,
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "certificate creation failed", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "certificate parse failed", Err: err}
	}

	return &KeyPair{PrivateKey: key, Certificate: cert}, nil
}
