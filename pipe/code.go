package pipe

import (
	"errors"

	"golang.org/x/sys/unix"

	"mini-xpc/loadbalance"
	"mini-xpc/protocol"
	"mini-xpc/registry"
	"mini-xpc/transport"
)

// Code is the closed set of errors pipe operations return.
type Code int

const (
	CodeNoMemory        Code = iota + 1 // message over the size or handle limit
	CodeInvalidArgument                 // nil or unencodable message, reply without a request
	CodeNoSuchProcess                   // nothing listens under the name or path
	CodeBrokenPipe                      // peer died or the pipe was invalidated
	CodeInvalid                         // malformed or unexpected reply, cancelled wait
)

var messages = [...]string{
	"No Error Found",
	"No Memory",
	"Invalid Argument",
	"No Such Process",
	"Broken Pipe",
	"Invalid Message",
}

// Strerror returns the message for an error code, or "BAD ERROR" if the
// code is unknown.
func Strerror(code int) string {
	if code < 0 || code >= len(messages) {
		return "BAD ERROR"
	}
	return messages[code]
}

func (c Code) Error() string { return Strerror(int(c)) }

// Errno returns the errno value matching c.
func (c Code) Errno() unix.Errno {
	switch c {
	case CodeNoMemory:
		return unix.ENOMEM
	case CodeInvalidArgument:
		return unix.EINVAL
	case CodeNoSuchProcess:
		return unix.ESRCH
	case CodeBrokenPipe:
		return unix.EPIPE
	}
	return unix.EBADMSG
}

// codeOf maps a transport, registry or context failure onto a Code.
func codeOf(err error) Code {
	var code Code
	switch {
	case errors.As(err, &code):
		return code
	case errors.Is(err, transport.ErrPeerDied), errors.Is(err, transport.ErrClosed),
		errors.Is(err, transport.ErrPoolClosed):
		return CodeBrokenPipe
	case errors.Is(err, transport.ErrInvalidDestination), errors.Is(err, registry.ErrNotFound),
		errors.Is(err, loadbalance.ErrNoInstances):
		return CodeNoSuchProcess
	}
	return CodeInvalid
}

// encodeCode maps a failure to build an outgoing envelope onto a Code.
func encodeCode(err error) Code {
	if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrTooManyHandles) {
		return CodeNoMemory
	}
	return CodeInvalidArgument
}
