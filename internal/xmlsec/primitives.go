package xmlsec

import (
	"crypto/rand"
	"crypto/rsa"
)

// The byte-level primitives below are pure functions over supplied key
// material. The XML-DSig layer (signer.go, verifier.go) builds on them via
// goxmldsig, which performs the same hash-then-PKCS1v15 steps over
// canonicalized node sets.

// Sign signs data with the given RSA key and signature algorithm URI.
func Sign(data []byte, key *rsa.PrivateKey, algorithm string) ([]byte, error) {
	if key == nil {
		return nil, &CryptoError{Kind: KindMalformedKey, Detail: "nil private key"}
	}
	hash, err := checkSignatureAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	h := hash.New()
	h.Write(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, h.Sum(nil))
	if err != nil {
		return nil, &CryptoError{Kind: KindVerificationFailed, Detail: "signing failed", Err: err}
	}
	return sig, nil
}

// Verify checks a signature over data against a public key. A nil error
// means the signature is valid.
func Verify(data, signature []byte, pub *rsa.PublicKey, algorithm string) error {
	if pub == nil {
		return &CryptoError{Kind: KindMalformedKey, Detail: "nil public key"}
	}
	hash, err := checkSignatureAlgorithm(algorithm)
	if err != nil {
		return err
	}

	h := hash.New()
	h.Write(data)
	if err := rsa.VerifyPKCS1v15(pub, hash, h.Sum(nil), signature); err != nil {
		return &CryptoError{Kind: KindVerificationFailed, Err: err}
	}
	return nil
}

// Digest computes the digest of data under the given digest algorithm URI.
func Digest(data []byte, algorithm string) ([]byte, error) {
	hash, err := checkDigestAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write(data)
	return h.Sum(nil), nil
}
