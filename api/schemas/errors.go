package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why an operation did not reach a positive terminal state.
type ErrorKind string

const (
	// KindNone marks a successful result.
	KindNone ErrorKind = ""
	// KindNetworkUnreachable covers proxy TCP/CONNECT failures and tunnel failures.
	KindNetworkUnreachable ErrorKind = "NetworkUnreachable"
	// KindIdentityLeak means traffic was routed but the egress IP did not change.
	KindIdentityLeak ErrorKind = "IdentityLeak"
	// KindAuthenticationRejected means cookie replay was redirected to the login page.
	KindAuthenticationRejected ErrorKind = "AuthenticationRejected"
	// KindFormResolutionFailure means a required field or the category could not be resolved.
	KindFormResolutionFailure ErrorKind = "FormResolutionFailure"
	// KindPublishUnconfirmed means submission happened but no terminal state was established.
	KindPublishUnconfirmed ErrorKind = "PublishUnconfirmed"
	// KindUpstreamUnavailable means every live category source failed.
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	// KindInternal is an unexpected failure carrying the underlying message.
	KindInternal ErrorKind = "Internal"
)

// Failure is the structured error type shared by every core component.
type Failure struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Missing []string
	Err     error
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind ErrorKind, stage, message string, cause error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Message: message, Err: cause}
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.Stage != "" {
		b.WriteString(" [")
		b.WriteString(f.Stage)
		b.WriteString("]")
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if len(f.Missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(f.Missing, ", "))
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf extracts the ErrorKind from err. Errors that are not a Failure
// classify as KindInternal, and a nil error as KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// MessageOf returns the human-facing message of err without the kind prefix.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		if f.Err != nil {
			return f.Message + ": " + f.Err.Error()
		}
		return f.Message
	}
	return err.Error()
}
