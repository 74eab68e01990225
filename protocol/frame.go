package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"mini-xpc/object"
)

// HeaderSize is the fixed part of a frame header; a 4-byte disposition per
// handle follows it.
const HeaderSize = 24 // 4 (msgID) + 4 (flags) + 8 (seq) + 4 (bodyLen) + 4 (handles)

var (
	ErrBadMessageID   = errors.New("protocol: unknown message id")
	ErrBadDisposition = errors.New("protocol: unknown handle disposition")
)

// MsgID says what a frame is for.
type MsgID uint32

const (
	MsgCheckin      MsgID = 0x77303074 // "w00t", first frame from a new client
	MsgMessage      MsgID = 0x10000000 // one-way or async request
	MsgAsyncReply   MsgID = 0x20000000 // reply to a request, matched by seq
	MsgNotification MsgID = 0x30000000 // server push, never answered
	MsgSyncMessage  MsgID = 0x40000000 // request whose sender blocks for the reply
)

func (m MsgID) String() string {
	switch m {
	case MsgCheckin:
		return "checkin"
	case MsgMessage:
		return "message"
	case MsgAsyncReply:
		return "async-reply"
	case MsgNotification:
		return "notification"
	case MsgSyncMessage:
		return "sync-message"
	}
	return fmt.Sprintf("msgid(0x%08x)", uint32(m))
}

func (m MsgID) valid() bool {
	switch m {
	case MsgCheckin, MsgMessage, MsgAsyncReply, MsgNotification, MsgSyncMessage:
		return true
	}
	return false
}

// Flags qualify a frame.
type Flags uint32

const (
	FlagWantsReply Flags = 1 << 0 // sender expects a reply carrying Seq
)

// Header describes one frame.
type Header struct {
	MsgID        MsgID
	Flags        Flags
	Seq          uint64               // request id; a reply repeats its request's Seq
	BodyLen      uint32               // envelope length in bytes
	Dispositions []object.Disposition // one per descriptor, in body order
}

// Size returns the encoded header length.
func (h *Header) Size() int {
	return HeaderSize + 4*len(h.Dispositions)
}

// WantsReply reports whether the sender expects an answer.
func (h *Header) WantsReply() bool {
	return h.Flags&FlagWantsReply != 0
}

// AppendFrame appends the header and body to dst. h.BodyLen is set from
// body.
func AppendFrame(dst []byte, h *Header, body []byte) []byte {
	h.BodyLen = uint32(len(body))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.MsgID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Flags))
	dst = binary.LittleEndian.AppendUint64(dst, h.Seq)
	dst = binary.LittleEndian.AppendUint32(dst, h.BodyLen)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(h.Dispositions)))
	for _, d := range h.Dispositions {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(d))
	}
	return append(dst, body...)
}

// Encode writes a complete frame (header + body) to w in a single Write.
// The caller must hold a write lock if multiple goroutines share w.
func Encode(w io.Writer, h *Header, body []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, h.Size()+len(body)), h, body))
	return err
}

// Decode reads one frame using the default limits.
func Decode(r io.Reader) (*Header, []byte, error) {
	return Options{}.Decode(r)
}

// Decode reads a complete frame (header + body) from r, rejecting frames
// over the configured limits before allocating for them.
func (o Options) Decode(r io.Reader) (*Header, []byte, error) {
	// Step 1: Read the fixed header
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, nil, err
	}
	h, handles, err := o.ParseHeader(fixed[:])
	if err != nil {
		return nil, nil, err
	}

	// Step 2: Read the disposition table
	if handles > 0 {
		table := make([]byte, 4*handles)
		if _, err := io.ReadFull(r, table); err != nil {
			return nil, nil, unexpected(err)
		}
		if h.Dispositions, err = ParseDispositions(table); err != nil {
			return nil, nil, err
		}
	}

	// Step 3: Read exactly BodyLen bytes
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, unexpected(err)
	}
	return h, body, nil
}

// ParseHeader validates the fixed header in b and returns it together with
// the number of dispositions that follow.
func (o Options) ParseHeader(b []byte) (*Header, int, error) {
	if len(b) < HeaderSize {
		return nil, 0, io.ErrUnexpectedEOF
	}
	h := &Header{
		MsgID:   MsgID(binary.LittleEndian.Uint32(b[0:4])),
		Flags:   Flags(binary.LittleEndian.Uint32(b[4:8])),
		Seq:     binary.LittleEndian.Uint64(b[8:16]),
		BodyLen: binary.LittleEndian.Uint32(b[16:20]),
	}
	handles := binary.LittleEndian.Uint32(b[20:24])

	if !h.MsgID.valid() {
		return nil, 0, fmt.Errorf("%w: 0x%08x", ErrBadMessageID, uint32(h.MsgID))
	}
	if uint64(h.BodyLen) > uint64(o.maxMessageSize()) {
		return nil, 0, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, h.BodyLen, o.maxMessageSize())
	}
	if uint64(handles) > uint64(o.maxHandles()) {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrTooManyHandles, handles, o.maxHandles())
	}
	return h, int(handles), nil
}

// ParseDispositions decodes a disposition table.
func ParseDispositions(b []byte) ([]object.Disposition, error) {
	out := make([]object.Disposition, len(b)/4)
	for i := range out {
		v := binary.LittleEndian.Uint32(b[4*i:])
		if v > uint32(object.DispositionMove) {
			return nil, fmt.Errorf("%w: %d", ErrBadDisposition, v)
		}
		out[i] = object.Disposition(v)
	}
	return out, nil
}

// unexpected turns a clean EOF inside a frame into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
