package rag

import "fmt"

// Kind classifies retrieval failures so callers can branch with errors.Is
// without string matching.
type Kind string

const (
	// KindConfiguration means a provider is missing an endpoint or credentials.
	KindConfiguration Kind = "configuration"
	// KindProviderResponse means a provider answered with a malformed payload.
	KindProviderResponse Kind = "provider_response"
	// KindEmbeddingUnavailable means no embedding provider is configured.
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	// KindDimensionMismatch means two vectors of different length were compared.
	KindDimensionMismatch Kind = "dimension_mismatch"
	// KindParseFailure means a language-model record could not be decoded.
	KindParseFailure Kind = "parse_failure"
)

// Error is a classified retrieval error.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Op names the operation that failed, e.g. "openai embed".
	Op string
	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrProviderResponse     = &Error{Kind: KindProviderResponse}
	ErrEmbeddingUnavailable = &Error{Kind: KindEmbeddingUnavailable}
	ErrDimensionMismatch    = &Error{Kind: KindDimensionMismatch}
	ErrParseFailure         = &Error{Kind: KindParseFailure}
)

// NewError builds a classified error. A nil cause is allowed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
