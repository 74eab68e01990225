package object

import "errors"

var (
	// ErrTypeMismatch is returned when a value has another kind than the
	// operation needs.
	ErrTypeMismatch = errors.New("object: type mismatch")
	// ErrIndexOutOfRange is returned by Array.Set.
	ErrIndexOutOfRange = errors.New("object: index out of range")
)

// Connection identifies the peer a received dictionary came from.
// Dictionaries hold it weakly: once whoever owns the connection drops it,
// RemoteConnection reports nil.
type Connection struct {
	name string
	peer any
}

// NewConnection returns a connection identity. peer is whatever the owner
// wants to reach from a received message, usually itself.
func NewConnection(name string, peer any) *Connection {
	return &Connection{name: name, peer: peer}
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) Peer() any { return c.peer }
