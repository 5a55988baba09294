package keycodec

import (
	"bytes"
	"errors"
)

var (
	// ErrTrailingBackslash is returned when a wire key ends with a lone backslash
	ErrTrailingBackslash = errors.New("keycodec: trailing backslash in escaped key")
	// ErrUnknownEscape is returned when a backslash is followed by an unknown mnemonic
	ErrUnknownEscape = errors.New("keycodec: unknown escape sequence in key")
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ICodec converts caller keys to wire keys and back.
// Unescape(Escape(k)) must return k for every key.
type ICodec interface {
	// Escape returns the wire form of the key and whether any byte was rewritten
	Escape(key []byte) (wire []byte, escaped bool)
	// Unescape reverses Escape
	Unescape(wire []byte) ([]byte, error)
}

// NewTextKeyCodec returns the codec used by the text dialect, which needs
// whitespace free keys
func NewTextKeyCodec() ICodec {
	return textKeyCodec{}
}

// NewBinaryKeyCodec returns the identity codec used by the binary dialect.
// Keys are length prefixed there and never need escaping.
func NewBinaryKeyCodec() ICodec {
	return binaryKeyCodec{}
}

// --------------------------------------------------------------------------
// Escape Table
// --------------------------------------------------------------------------

const escapeByte = '\\'

// escapeTable maps a raw byte to its mnemonic, 0 means "copy as is"
var escapeTable = [256]byte{
	' ':  's',
	'\t': 't',
	'\n': 'n',
	'\v': 'v',
	'\f': 'f',
	'\r': 'r',
	'\\': '\\',
}

// unescapeTable is the inverse of escapeTable
var unescapeTable = [256]byte{
	's':  ' ',
	't':  '\t',
	'n':  '\n',
	'v':  '\v',
	'f':  '\f',
	'r':  '\r',
	'\\': '\\',
}

// --------------------------------------------------------------------------
// Package Functions
// --------------------------------------------------------------------------

// Escape rewrites whitespace and backslashes into two byte escape sequences.
// The input is returned unchanged (and not copied) when nothing needs escaping.
func Escape(key []byte) ([]byte, bool) {
	n := 0
	for _, b := range key {
		if escapeTable[b] != 0 {
			n++
		}
	}
	if n == 0 {
		return key, false
	}

	wire := make([]byte, 0, len(key)+n)
	for _, b := range key {
		if m := escapeTable[b]; m != 0 {
			wire = append(wire, escapeByte, m)
			continue
		}
		wire = append(wire, b)
	}
	return wire, true
}

// Unescape decodes a key produced by Escape
func Unescape(wire []byte) ([]byte, error) {
	i := bytes.IndexByte(wire, escapeByte)
	if i < 0 {
		return wire, nil
	}

	key := make([]byte, 0, len(wire))
	key = append(key, wire[:i]...)
	for ; i < len(wire); i++ {
		b := wire[i]
		if b != escapeByte {
			key = append(key, b)
			continue
		}
		if i+1 >= len(wire) {
			return nil, ErrTrailingBackslash
		}
		raw := unescapeTable[wire[i+1]]
		if raw == 0 {
			return nil, ErrUnknownEscape
		}
		key = append(key, raw)
		i++
	}
	return key, nil
}

// --------------------------------------------------------------------------
// Codec Implementations
// --------------------------------------------------------------------------

type textKeyCodec struct{}

func (textKeyCodec) Escape(key []byte) ([]byte, bool) {
	return Escape(key)
}

func (textKeyCodec) Unescape(wire []byte) ([]byte, error) {
	return Unescape(wire)
}

type binaryKeyCodec struct{}

func (binaryKeyCodec) Escape(key []byte) ([]byte, bool) {
	return key, false
}

func (binaryKeyCodec) Unescape(wire []byte) ([]byte, error) {
	return wire, nil
}
