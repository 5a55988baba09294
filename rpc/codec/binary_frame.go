package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Binary Dialect Constants
// --------------------------------------------------------------------------

const (
	MagicRequest  byte = 0x80
	MagicResponse byte = 0x81

	// HeaderSize is the fixed size of every binary frame header
	HeaderSize = 24
)

// Opcode identifies a binary command
type Opcode byte

const (
	OpGet     Opcode = 0x00
	OpSet     Opcode = 0x01
	OpAdd     Opcode = 0x02
	OpReplace Opcode = 0x03
	OpDelete  Opcode = 0x04
	OpIncr    Opcode = 0x05
	OpDecr    Opcode = 0x06
	OpQuit    Opcode = 0x07
	OpFlush   Opcode = 0x08
	OpGetQ    Opcode = 0x09
	OpNoop    Opcode = 0x0a
	OpVersion Opcode = 0x0b
	OpGetK    Opcode = 0x0c
	OpGetKQ   Opcode = 0x0d
	OpAppend  Opcode = 0x0e
	OpPrepend Opcode = 0x0f
	OpStat    Opcode = 0x10
)

// Status is the response status of a binary frame
type Status uint16

const (
	StatusOK             Status = 0x0000
	StatusKeyNotFound    Status = 0x0001
	StatusKeyExists      Status = 0x0002
	StatusValueTooLarge  Status = 0x0003
	StatusInvalidArgs    Status = 0x0004
	StatusNotStored      Status = 0x0005
	StatusNonNumeric     Status = 0x0006
	StatusUnknownCommand Status = 0x0081
	StatusOutOfMemory    Status = 0x0082
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "no error"
	case StatusKeyNotFound:
		return "key not found"
	case StatusKeyExists:
		return "key exists"
	case StatusValueTooLarge:
		return "value too large"
	case StatusInvalidArgs:
		return "invalid arguments"
	case StatusNotStored:
		return "item not stored"
	case StatusNonNumeric:
		return "incr/decr on non-numeric value"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusOutOfMemory:
		return "out of memory"
	default:
		return "unknown status"
	}
}

// NoCreate in the expiry of an incr/decr makes a missing counter a miss
const NoCreate uint32 = 0xffffffff

// --------------------------------------------------------------------------
// Frame Header
// --------------------------------------------------------------------------

// Header is the 24 byte header shared by requests and responses. For requests
// the Status field carries the vbucket id.
type Header struct {
	Magic     byte
	Opcode    Opcode
	KeyLen    uint16
	ExtrasLen uint8
	DataType  uint8
	Status    Status
	BodyLen   uint32
	Opaque    uint32
	Cas       uint64
}

// AppendHeader appends the encoded header to dst
func AppendHeader(dst []byte, h Header) []byte {
	var b [HeaderSize]byte
	b[0] = h.Magic
	b[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(b[2:4], h.KeyLen)
	b[4] = h.ExtrasLen
	b[5] = h.DataType
	binary.BigEndian.PutUint16(b[6:8], uint16(h.Status))
	binary.BigEndian.PutUint32(b[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(b[12:16], h.Opaque)
	binary.BigEndian.PutUint64(b[16:24], h.Cas)
	return append(dst, b[:]...)
}

// ReadHeader reads and decodes one header
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Magic:     b[0],
		Opcode:    Opcode(b[1]),
		KeyLen:    binary.BigEndian.Uint16(b[2:4]),
		ExtrasLen: b[4],
		DataType:  b[5],
		Status:    Status(binary.BigEndian.Uint16(b[6:8])),
		BodyLen:   binary.BigEndian.Uint32(b[8:12]),
		Opaque:    binary.BigEndian.Uint32(b[12:16]),
		Cas:       binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

// Frame is a header with its body split into extras, key and value
type Frame struct {
	Header
	Extras []byte
	Key    []byte
	Value  []byte
}

// AppendFrame appends a complete frame, filling in the length fields
func AppendFrame(dst []byte, f Frame) []byte {
	f.KeyLen = uint16(len(f.Key))
	f.ExtrasLen = uint8(len(f.Extras))
	f.BodyLen = uint32(len(f.Extras) + len(f.Key) + len(f.Value))
	dst = AppendHeader(dst, f.Header)
	dst = append(dst, f.Extras...)
	dst = append(dst, f.Key...)
	return append(dst, f.Value...)
}

// ErrFrameLayout is returned by ReadFrame when the lengths of a header are inconsistent
var ErrFrameLayout = errors.New("codec: frame lengths are inconsistent")

// ReadFrame reads one frame. maxBody bounds the body allocation, 0 means no bound.
func ReadFrame(r io.Reader, maxBody uint32) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if uint32(h.KeyLen)+uint32(h.ExtrasLen) > h.BodyLen || (maxBody > 0 && h.BodyLen > maxBody) {
		return Frame{Header: h}, ErrFrameLayout
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{Header: h}, err
	}
	ext := int(h.ExtrasLen)
	key := ext + int(h.KeyLen)
	return Frame{
		Header: h,
		Extras: body[:ext:ext],
		Key:    body[ext:key:key],
		Value:  body[key:],
	}, nil
}
