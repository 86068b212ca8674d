package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
)

// Message is one rendered email to a single recipient.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Transport sends one message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ErrTransportUnavailable means no connection to the relay could be made; nothing was attempted.
var ErrTransportUnavailable = errors.New("mail transport unavailable")

type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// SendError is a per-recipient delivery failure.
type SendError struct {
	Class Class
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failure: %v", e.Class, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func NewTransient(err error) error {
	return &SendError{Class: Transient, Err: err}
}

func NewPermanent(err error) error {
	return &SendError{Class: Permanent, Err: err}
}

// IsTransient reports whether err is worth retrying on a later tick. Unclassified errors are not.
func IsTransient(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Class == Transient
}

// Classify maps a raw SMTP error onto SendError. 4xx replies, timeouts and dropped connections are
// transient; 5xx replies and anything else are permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) || errors.Is(err, ErrTransportUnavailable) {
		return err
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if 400 <= protoErr.Code && protoErr.Code < 500 {
			return NewTransient(err)
		}
		return NewPermanent(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransient(err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return NewTransient(err)
	}
	return NewPermanent(err)
}
