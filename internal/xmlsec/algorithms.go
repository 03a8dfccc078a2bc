package xmlsec

import "crypto"

// XML-DSig algorithm identifiers (W3C XML Signature Section 6).
const (
	SignatureRSASHA1   = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	SignatureRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SignatureRSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	SignatureRSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"

	DigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	DigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	DigestSHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	DigestSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"

	CanonicalizationExclusive             = "http://www.w3.org/2001/10/xml-exc-c14n#"
	CanonicalizationExclusiveWithComments = "http://www.w3.org/2001/10/xml-exc-c14n#WithComments"
)

// signatureHashes maps permitted signature algorithms to their hash.
// SHA-1 identifiers are recognized deliberately without an entry here:
// a known-but-rejected algorithm must fail as not-permitted, never fall
// back to a weaker verification path.
var signatureHashes = map[string]crypto.Hash{
	SignatureRSASHA256: crypto.SHA256,
	SignatureRSASHA384: crypto.SHA384,
	SignatureRSASHA512: crypto.SHA512,
}

// digestHashes maps permitted digest algorithms to their hash.
var digestHashes = map[string]crypto.Hash{
	DigestSHA256: crypto.SHA256,
	DigestSHA384: crypto.SHA384,
	DigestSHA512: crypto.SHA512,
}

// weakAlgorithms are identifiers we recognize and refuse. Listing them
// separately lets error messages distinguish "too weak" from "unknown".
var weakAlgorithms = map[string]bool{
	SignatureRSASHA1: true,
	DigestSHA1:       true,
}

// checkSignatureAlgorithm validates a signature algorithm identifier
// against the permitted set.
func checkSignatureAlgorithm(uri string) (crypto.Hash, error) {
	if h, ok := signatureHashes[uri]; ok {
		return h, nil
	}
	if weakAlgorithms[uri] {
		return 0, &CryptoError{Kind: KindAlgorithmNotPermitted, Detail: "signature algorithm below minimum strength: " + uri}
	}
	return 0, &CryptoError{Kind: KindAlgorithmNotPermitted, Detail: "unknown signature algorithm: " + uri}
}

// checkDigestAlgorithm validates a digest algorithm identifier against the
// permitted set.
func checkDigestAlgorithm(uri string) (crypto.Hash, error) {
	if h, ok := digestHashes[uri]; ok {
		return h, nil
	}
	if weakAlgorithms[uri] {
		return 0, &CryptoError{Kind: KindAlgorithmNotPermitted, Detail: "digest algorithm below minimum strength: " + uri}
	}
	return 0, &CryptoError{Kind: KindAlgorithmNotPermitted, Detail: "unknown digest algorithm: " + uri}
}
