// Package decrypt implements the decryption engine for encrypted audio
// blobs: fetch from the aggregator with propagation-tolerant retry, envelope
// detection, sealed-key recovery through the key service, and authenticated
// symmetric decryption of the payload.
package decrypt

import (
	"errors"
	"fmt"
)

// Kind classifies decryption failures so the ingress layer can map them to
// transport status codes.
type Kind int

const (
	// KindDecryption covers tag verification failures and anything not
	// matched by a more specific kind.
	KindDecryption Kind = iota
	// KindAuthentication means the key service denied the caller by policy.
	KindAuthentication
	// KindValidation means the input was malformed.
	KindValidation
	// KindNetwork is a transient upstream transport failure.
	KindNetwork
	// KindTimeout means an upstream exceeded its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	default:
		return "decryption"
	}
}

// Error is a classified decryption failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failure: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s failure: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error chain, defaulting to
// KindDecryption for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindDecryption
}
