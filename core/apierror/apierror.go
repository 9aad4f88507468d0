// Package apierror defines the typed failure raised anywhere in the
// dynamic entity pipeline. An Error carries an HTTP-like status, a
// localizable message, structured details and a logging hint.
package apierror

import (
	"errors"
	"maps"
	"net/http"

	"github.com/artpar/entitygate/core/i18n"
)

// Well-known message keys produced by the core.
const (
	KeyUnknownRoute        = "error.router.unknown.route"
	KeyEntityNotFound      = "error.entity.not.found"
	KeyEntityExists        = "error.entity.exists"
	KeyValidationFailed    = "error.validation.failed"
	KeyRequired            = "error.validation.required"
	KeyUnknownAttribute    = "error.validation.unknown.attribute"
	KeyInvalidType         = "error.validation.type"
	KeyProviderMissing     = "error.configuration.provider.missing"
	KeyValidationMissing   = "error.configuration.validation.missing"
	KeyTaskMissing         = "error.configuration.task.missing"
	KeyValidationInvalid   = "error.configuration.validation.invalid"
	KeyProviderFailure     = "error.provider.failure"
	KeyTaskFailure         = "error.task.failure"
	KeyUnauthorized        = "error.authorization.invalid.token"
	KeyInvalidPayload      = "error.request.invalid.payload"
	KeyPayloadTooLarge     = "error.request.payload.too.large"
	KeyInvalidParameter    = "error.request.invalid.parameter"
	KeyInternalServerError = "error.internal"
)

// Error is an immutable, localizable API failure.
type Error struct {
	status  int
	message i18n.Message
	details map[string]any
	log     bool
	cause   error
}

// Option customizes an Error at construction.
type Option func(*Error)

// WithDetails attaches structured details. The map is copied.
func WithDetails(details map[string]any) Option {
	return func(e *Error) {
		maps.Copy(e.details, details)
	}
}

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *Error) {
		e.cause = err
	}
}

// Quiet marks the error as expected; transports should not log it.
func Quiet() Option {
	return func(e *Error) {
		e.log = false
	}
}

// New creates an Error. Errors are logged by default.
func New(status int, message i18n.Message, opts ...Option) *Error {
	e := &Error{
		status:  status,
		message: message,
		details: make(map[string]any),
		log:     true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Error returns the message key, followed by the cause when present.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.message.Key() + ": " + e.cause.Error()
	}
	return e.message.Key()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status code.
func (e *Error) Status() int {
	return e.status
}

// Message returns the localizable message.
func (e *Error) Message() i18n.Message {
	return e.message
}

// Details returns a copy of the structured details.
func (e *Error) Details() map[string]any {
	out := make(map[string]any, len(e.details))
	maps.Copy(out, e.details)
	return out
}

// ShouldLog reports whether the transport must log this error.
func (e *Error) ShouldLog() bool {
	return e.log
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// UnknownRoute is the single shape used for missing routes, disabled verbs
// and every authorization denial, so that callers cannot tell them apart.
func UnknownRoute(route string, opts ...Option) *Error {
	opts = append([]Option{Quiet()}, opts...)
	return New(http.StatusNotFound, i18n.Of(KeyUnknownRoute, map[string]any{"route": route}), opts...)
}

// EntityNotFound reports a missing record on update or patch.
func EntityNotFound(entity, id string) *Error {
	return New(http.StatusNotFound,
		i18n.Of(KeyEntityNotFound, map[string]any{"entity": entity, "id": id}),
		Quiet())
}

// EntityExists reports a create with an id already in use.
func EntityExists(entity, id string, opts ...Option) *Error {
	opts = append([]Option{Quiet()}, opts...)
	return New(http.StatusConflict,
		i18n.Of(KeyEntityExists, map[string]any{"entity": entity, "id": id}),
		opts...)
}

// InvalidParameter reports a query parameter the request cannot be served with.
func InvalidParameter(param string, opts ...Option) *Error {
	opts = append([]Option{Quiet()}, opts...)
	return New(http.StatusBadRequest,
		i18n.Of(KeyInvalidParameter, map[string]any{"parameter": param}),
		opts...)
}

// Internal wraps an unexpected error as a logged server error.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, i18n.NewMessage(KeyInternalServerError), WithCause(err))
}
