package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/beevik/etree"
	xrv "github.com/mattermost/xml-roundtrip-validator"
)

// Binding identifies the wire encoding a message arrived or leaves with.
type Binding string

const (
	// BindingRedirect is the HTTP-Redirect binding: deflate, base64, then
	// URL escaping by the query encoder (SAML 2.0 Bindings Section 3.4).
	BindingRedirect Binding = "redirect"
	// BindingPost is the HTTP-POST binding: base64 only
	// (SAML 2.0 Bindings Section 3.5).
	BindingPost Binding = "post"
)

// maxDecodedSize bounds the decompressed size of an inbound message. The
// redirect binding's deflate layer would otherwise let a small parameter
// expand without limit.
const maxDecodedSize = 1 << 20

// MalformedMessageError reports an unparseable or structurally invalid wire
// message. It is terminal: malformed input is never repaired or retried.
type MalformedMessageError struct {
	What   string // which artifact failed to parse ("response", "metadata", ...)
	Detail string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	msg := fmt.Sprintf("malformed %s", e.What)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// ParsedResponse is the outcome of decoding a Response. It carries the typed
// message alongside the DOM form of the exact bytes that were decoded, so
// signature verification and condition checking operate on one and the same
// node set.
type ParsedResponse struct {
	Response *Response
	Doc      *etree.Document
	Raw      []byte
}

// ============================================================================
// Outbound encoding
// ============================================================================

// EncodeRedirect serializes a message for the HTTP-Redirect binding:
// DEFLATE (raw, no zlib header) then base64. The result still needs URL
// escaping, which url.Values performs when the query string is assembled.
func EncodeRedirect(message any) (string, error) {
	xmlData, err := xml.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("saml: marshal message: %w", err)
	}

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("saml: deflate writer: %w", err)
	}
	if _, err := writer.Write(xmlData); err != nil {
		writer.Close()
		return "", fmt.Errorf("saml: deflate: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("saml: deflate: %w", err)
	}

	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// EncodePost serializes a message for the HTTP-POST binding: base64 only,
// with an XML declaration.
func EncodePost(message any) (string, error) {
	xmlData, err := xml.MarshalIndent(message, "", "  ")
	if err != nil {
		return "", fmt.Errorf("saml: marshal message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(append([]byte(xml.Header), xmlData...)), nil
}

// ============================================================================
// Inbound decoding
// ============================================================================

// decodeToXML reverses the binding encoding back to XML bytes. what names
// the artifact being decoded in any error.
func decodeToXML(value string, binding Binding, what string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &MalformedMessageError{What: what, Detail: "invalid base64", Err: err}
	}

	if binding == BindingPost {
		return decoded, nil
	}

	reader := flate.NewReader(bytes.NewReader(decoded))
	defer reader.Close()

	xmlData, err := io.ReadAll(io.LimitReader(reader, maxDecodedSize+1))
	if err != nil {
		return nil, &MalformedMessageError{What: what, Detail: "invalid deflate stream", Err: err}
	}
	if len(xmlData) > maxDecodedSize {
		return nil, &MalformedMessageError{What: what, Detail: "decompressed message too large"}
	}
	return xmlData, nil
}

// DecodeResponse decodes and strictly parses a Response received on the
// given binding. The raw XML must survive a round-trip check unchanged
// before any of it is interpreted; documents that Go's decoder would mutate
// on re-encoding are the raw material of signature-wrapping attacks.
func DecodeResponse(value string, binding Binding) (*ParsedResponse, error) {
	xmlData, err := decodeToXML(value, binding, "response")
	if err != nil {
		return nil, err
	}

	if err := xrv.Validate(bytes.NewReader(xmlData)); err != nil {
		return nil, &MalformedMessageError{What: "response", Detail: "round-trip check failed", Err: err}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, &MalformedMessageError{What: "response", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, &MalformedMessageError{What: "response", Detail: "empty document"}
	}
	if root.Tag != "Response" || root.NamespaceURI() != NamespaceSAMLp {
		return nil, &MalformedMessageError{What: "response", Detail: "root element is not samlp:Response"}
	}

	var response Response
	if err := xml.Unmarshal(xmlData, &response); err != nil {
		return nil, &MalformedMessageError{What: "response", Err: err}
	}
	if err := checkRequiredResponseFields(&response); err != nil {
		return nil, err
	}

	return &ParsedResponse{
		Response: &response,
		Doc:      doc,
		Raw:      xmlData,
	}, nil
}

// checkRequiredResponseFields rejects responses missing elements the
// protocol makes mandatory. Missing structure is a parse failure, not a
// validation verdict.
func checkRequiredResponseFields(r *Response) error {
	switch {
	case r.ID == "":
		return &MalformedMessageError{What: "response", Detail: "missing ID"}
	case r.Version != "2.0":
		return &MalformedMessageError{What: "response", Detail: fmt.Sprintf("unsupported version %q", r.Version)}
	case r.IssueInstant == "":
		return &MalformedMessageError{What: "response", Detail: "missing IssueInstant"}
	case r.Status == nil:
		return &MalformedMessageError{What: "response", Detail: "missing Status"}
	}
	if _, err := ParseInstant(r.IssueInstant); err != nil {
		return &MalformedMessageError{What: "response", Detail: "invalid IssueInstant", Err: err}
	}
	for _, a := range r.Assertions {
		if a.ID == "" {
			return &MalformedMessageError{What: "response", Detail: "assertion missing ID"}
		}
		if a.Subject == nil || a.Subject.NameID == nil {
			return &MalformedMessageError{What: "response", Detail: "assertion missing Subject"}
		}
	}
	return nil
}

// DecodeAuthnRequest decodes an AuthnRequest, used by tests and by IdP-side
// tooling to confirm what an SP emitted.
func DecodeAuthnRequest(value string, binding Binding) (*AuthnRequest, error) {
	xmlData, err := decodeToXML(value, binding, "authn request")
	if err != nil {
		return nil, err
	}
	if err := xrv.Validate(bytes.NewReader(xmlData)); err != nil {
		return nil, &MalformedMessageError{What: "authn request", Detail: "round-trip check failed", Err: err}
	}

	var req AuthnRequest
	if err := xml.Unmarshal(xmlData, &req); err != nil {
		return nil, &MalformedMessageError{What: "authn request", Err: err}
	}
	if req.ID == "" || req.IssueInstant == "" {
		return nil, &MalformedMessageError{What: "authn request", Detail: "missing required attributes"}
	}
	return &req, nil
}
