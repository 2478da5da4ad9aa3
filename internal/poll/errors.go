// internal/poll/errors.go
package poll

import "errors"

// transient is implemented by errors that should not abort a polling run.
type transient interface {
	Transient() bool
}

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// MarkTransient wraps err so IsTransient reports true for it. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or any error it wraps, declares itself
// transient.
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}
