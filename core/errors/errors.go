package errors

import "errors"

// Kind partitions failures the way the dispatcher needs them: every pipeline
// stage returns exactly one kind, and the HTTP layer maps kinds to status
// codes without inspecting messages.
type Kind string

const (
	KindIO       Kind = "io_failure"
	KindParse    Kind = "parse_failure"
	KindSchema   Kind = "schema_violation"
	KindRender   Kind = "render_failure"
	KindExternal Kind = "external_failure"
	KindSession  Kind = "session_failure"
	KindInternal Kind = "internal_failure"
)

// Session failure codes let the dispatcher distinguish the 409/498/499
// responses without parsing messages.
const (
	CodeTokenMissing   = "token_missing"
	CodeTokenInvalid   = "token_invalid"
	CodeTokenDuplicate = "token_duplicate"
	CodeConflict       = "active_session_conflict"
	CodeNotActive      = "session_not_active"
	CodeNotOwner       = "pending_confirm_not_owner"
)

type classifiedError struct {
	kind  Kind
	code  string
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Kind() Kind {
	return e.kind
}

func (e *classifiedError) Code() string {
	return e.code
}

func Wrap(cause error, kind Kind) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{kind: kind, cause: cause}
}

func WrapCode(cause error, kind Kind, code string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{kind: kind, code: code, cause: cause}
}

func New(kind Kind, message string) error {
	return &classifiedError{kind: kind, cause: errors.New(message)}
}

func NewCode(kind Kind, code, message string) error {
	return &classifiedError{kind: kind, code: code, cause: errors.New(message)}
}

func KindOf(err error) Kind {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.kind
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}
