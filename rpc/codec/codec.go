package codec

import (
	"bufio"

	"github.com/ValentinKolb/mcache/lib/keycodec"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/valyala/bytebufferpool"
)

var (
	Logger = logger.GetLogger("codec")
)

// MaxKeyLength is the longest wire key memcached accepts
const MaxKeyLength = 250

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ICodec encodes commands and classifies responses for one dialect.
// Implementations are stateless and safe for concurrent use.
type ICodec interface {
	// Name returns "text" or "binary"
	Name() string
	// Binary reports whether this is the binary dialect
	Binary() bool
	// EncodeKey returns the wire form of a key
	EncodeKey(key []byte) []byte
	// DecodeKey reverses EncodeKey
	DecodeKey(wire []byte) ([]byte, error)
	// Encode appends the request for cmd to buf
	Encode(buf *bytebufferpool.ByteBuffer, cmd *common.Command) error
	// Decode reads the complete response to cmd. Server reported failures are
	// returned as an outcome of kind OutcomeError, the error return is reserved
	// for I/O failures and malformed responses, after which the connection is
	// in an unknown state.
	Decode(r *bufio.Reader, cmd *common.Command) (common.Outcome, error)
}

// NewCodec selects the dialect once
func NewCodec(binary bool) ICodec {
	if binary {
		return NewBinaryCodec()
	}
	return NewTextCodec()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// validateKeys checks the wire form of every key of the command
func validateKeys(keys keycodec.ICodec, cmd *common.Command) error {
	if cmd.Type == common.CmdFlush || cmd.Type == common.CmdVersion || cmd.Type == common.CmdStats {
		return nil
	}
	if len(cmd.Keys) == 0 {
		return common.NewInvalidArgumentError("%s requires a key", cmd.Type)
	}
	for _, k := range cmd.Keys {
		if len(k) == 0 {
			return common.NewInvalidArgumentError("empty key")
		}
		if wire, _ := keys.Escape(k); len(wire) > MaxKeyLength {
			return common.NewInvalidArgumentError("key exceeds %d bytes on the wire", MaxKeyLength)
		}
	}
	return nil
}

// malformed returns the connection error used for responses that cannot be parsed
func malformed(format string, args ...interface{}) error {
	return common.NewConnectionError(nil, "malformed response: "+format, args...)
}
