package validate

import "fmt"

// Reason classifies a validation failure. The set is closed: the checks are
// fixed by the protocol standard and are not extensible at runtime.
type Reason string

const (
	ReasonIdPFailure          Reason = "idp-reported-failure"
	ReasonReplay              Reason = "replay-detected"
	ReasonUnsolicited         Reason = "unsolicited-response"
	ReasonIssuerMismatch      Reason = "issuer-mismatch"
	ReasonSignatureInvalid    Reason = "signature-invalid"
	ReasonExpired             Reason = "assertion-expired"
	ReasonNotYetValid         Reason = "assertion-not-yet-valid"
	ReasonAudienceMismatch    Reason = "audience-mismatch"
	ReasonSubjectConfirmation Reason = "subject-confirmation-invalid"
	ReasonMalformed           Reason = "malformed-assertion"
)

// Failure is a terminal validation verdict. Error() carries enough detail
// for audit logs; anything shown to the browser must come from
// PublicMessage instead, so a probing client cannot tell which check
// failed.
type Failure struct {
	Reason Reason

	// StatusCode holds the IdP's reported status for ReasonIdPFailure.
	StatusCode string

	Detail string
	Err    error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("saml validation failed: %s", f.Reason)
	if f.StatusCode != "" {
		msg += fmt.Sprintf(" (status %s)", f.StatusCode)
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is lets errors.Is match a bare &Failure{Reason: ...}.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Reason == f.Reason && t.StatusCode == "" && t.Detail == "" && t.Err == nil
}

// PublicMessage is the one string safe to surface to the user agent. It is
// identical for every reason, including replay and unsolicited rejections.
func (f *Failure) PublicMessage() string {
	return "authentication failed"
}

func failf(reason Reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
