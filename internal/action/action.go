// Package action carries out the buttons on the call card
package action

import (
	"context"
	"errors"
	"strings"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/phone"
)

// ErrUnsupported is returned by call control that cannot perform an operation
var ErrUnsupported = errors.New("operation not supported by call source")

// Action is a card button. Untrusted strings become one of these through
// ParseAction and nothing else.
type Action int

const (
	Unknown Action = iota
	OpenChat
	Answer
	Reject
	Close
)

// ParseAction converts the surface's action string, case-insensitively
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WHATSAPP":
		return OpenChat
	case "ANSWER":
		return Answer
	case "REJECT":
		return Reject
	case "CLOSE":
		return Close
	}
	return Unknown
}

func (a Action) String() string {
	switch a {
	case OpenChat:
		return "open_chat"
	case Answer:
		return "answer"
	case Reject:
		return "reject"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// Request is the session context an action runs against
type Request struct {
	Generation uint64
	Number     phone.Number
	Call       callstate.CallRef
}

// Closer closes the session an action belongs to
type Closer interface {
	RequestClose(generation uint64, reason string)
}

// CallControl answers and ends calls at one source
type CallControl interface {
	Accept(ctx context.Context, call callstate.CallRef) error
	End(ctx context.Context, call callstate.CallRef) error
}

// Launcher opens a URL in an external application
type Launcher interface {
	Launch(ctx context.Context, url string) error
}

// Grants reports the standing call-control permission
type Grants interface {
	CallControlAllowed() bool
}
