package xmlsec

import (
	"errors"
	"fmt"
)

// ErrorKind classifies cryptographic failures so callers can tell a broken
// deployment (bad key material) from a rejected algorithm from a signature
// that simply does not verify.
type ErrorKind string

const (
	KindMalformedKey          ErrorKind = "malformed-key"
	KindMalformedSignature    ErrorKind = "malformed-signature"
	KindAlgorithmNotPermitted ErrorKind = "algorithm-not-permitted"
	KindVerificationFailed    ErrorKind = "verification-failed"
)

// CryptoError reports a cryptographic failure with its classification.
type CryptoError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *CryptoError) Error() string {
	msg := fmt.Sprintf("xmlsec: %s", e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind alone.
func (e *CryptoError) Is(target error) bool {
	t, ok := target.(*CryptoError)
	return ok && t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// ErrNoSignature is returned when an element carries no signature at all.
// Callers distinguish this from a signature that is present but wrong.
var ErrNoSignature = errors.New("xmlsec: no signature present")
