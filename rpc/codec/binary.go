package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"

	"github.com/ValentinKolb/mcache/lib/keycodec"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/valyala/bytebufferpool"
)

// maxResponseBody bounds the allocation for a single response frame
const maxResponseBody = 64 << 20

// binaryCodec implements the 24 byte header framing
type binaryCodec struct {
	keys keycodec.ICodec
}

// NewBinaryCodec returns the codec for the binary dialect
func NewBinaryCodec() ICodec {
	return &binaryCodec{keys: keycodec.NewBinaryKeyCodec()}
}

func (c *binaryCodec) Name() string {
	return "binary"
}

func (c *binaryCodec) Binary() bool {
	return true
}

func (c *binaryCodec) EncodeKey(key []byte) []byte {
	return key
}

func (c *binaryCodec) DecodeKey(wire []byte) ([]byte, error) {
	return wire, nil
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

var storeOpcodes = map[common.CommandType]Opcode{
	common.CmdSet:     OpSet,
	common.CmdAdd:     OpAdd,
	common.CmdReplace: OpReplace,
	common.CmdCas:     OpSet,
	common.CmdAppend:  OpAppend,
	common.CmdPrepend: OpPrepend,
}

func (c *binaryCodec) Encode(buf *bytebufferpool.ByteBuffer, cmd *common.Command) error {
	if err := validateKeys(c.keys, cmd); err != nil {
		return err
	}

	req := Frame{Header: Header{Magic: MagicRequest}}
	switch cmd.Type {
	case common.CmdGet, common.CmdGets:
		// one quiet get per key, the opaque is the key index, the noop marks the end
		for i, k := range cmd.Keys {
			buf.B = AppendFrame(buf.B, Frame{
				Header: Header{Magic: MagicRequest, Opcode: OpGetKQ, Opaque: uint32(i)},
				Key:    k,
			})
		}
		req.Opcode = OpNoop
		req.Opaque = uint32(len(cmd.Keys))

	case common.CmdSet, common.CmdAdd, common.CmdReplace, common.CmdCas:
		req.Opcode = storeOpcodes[cmd.Type]
		req.Extras = make([]byte, 8)
		binary.BigEndian.PutUint32(req.Extras[0:4], cmd.Flags)
		binary.BigEndian.PutUint32(req.Extras[4:8], cmd.Expiry)
		req.Key, req.Value = cmd.Key(), cmd.Value
		if cmd.Type == common.CmdCas {
			req.Cas = cmd.CasToken
		}

	case common.CmdAppend, common.CmdPrepend:
		req.Opcode = storeOpcodes[cmd.Type]
		req.Key, req.Value = cmd.Key(), cmd.Value

	case common.CmdIncr, common.CmdDecr:
		req.Opcode = OpIncr
		if cmd.Type == common.CmdDecr {
			req.Opcode = OpDecr
		}
		req.Extras = make([]byte, 20)
		binary.BigEndian.PutUint64(req.Extras[0:8], cmd.Delta)
		binary.BigEndian.PutUint64(req.Extras[8:16], 0)
		binary.BigEndian.PutUint32(req.Extras[16:20], NoCreate)
		req.Key = cmd.Key()

	case common.CmdDelete:
		req.Opcode = OpDelete
		req.Key = cmd.Key()

	case common.CmdFlush:
		req.Opcode = OpFlush
		if cmd.Delay > 0 {
			req.Extras = make([]byte, 4)
			binary.BigEndian.PutUint32(req.Extras, cmd.Delay)
		}

	case common.CmdVersion:
		req.Opcode = OpVersion

	case common.CmdStats:
		req.Opcode = OpStat

	default:
		return common.NewInvalidArgumentError("unsupported command %s", cmd.Type)
	}

	buf.B = AppendFrame(buf.B, req)
	return nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

func (c *binaryCodec) Decode(r *bufio.Reader, cmd *common.Command) (common.Outcome, error) {
	if cmd.Type.IsRetrieval() {
		return c.decodeValues(r, cmd)
	}
	if cmd.Type == common.CmdStats {
		return c.decodeStats(r, cmd)
	}

	resp, err := c.readResponse(r)
	if err != nil {
		return common.Outcome{}, err
	}
	if expected := expectedOpcode(cmd); resp.Opcode != expected {
		return common.Outcome{}, malformed("opcode %#x in response to %s", byte(resp.Opcode), cmd.Type)
	}
	if resp.Status != StatusOK {
		return classifyStatus(cmd.Type, resp.Status, resp.Value), nil
	}

	switch cmd.Type {
	case common.CmdIncr, common.CmdDecr:
		if len(resp.Value) != 8 {
			return common.Outcome{}, malformed("counter of %d bytes", len(resp.Value))
		}
		return common.Outcome{Kind: common.OutcomeStored, Counter: binary.BigEndian.Uint64(resp.Value)}, nil
	case common.CmdVersion:
		return common.Outcome{Kind: common.OutcomeStored, Value: resp.Value}, nil
	default:
		return common.Outcome{Kind: common.OutcomeStored}, nil
	}
}

// decodeValues collects GetKQ hits until the terminating noop. Misses are silent.
func (c *binaryCodec) decodeValues(r *bufio.Reader, cmd *common.Command) (common.Outcome, error) {
	out := common.Outcome{Kind: common.OutcomeRetrieved}
	withCas := cmd.Type == common.CmdGets
	var failure error

	for {
		resp, err := c.readResponse(r)
		if err != nil {
			return common.Outcome{}, err
		}
		switch resp.Opcode {
		case OpNoop:
			if failure != nil {
				out.Kind, out.Err = common.OutcomeError, failure
			}
			return out, nil
		case OpGetKQ, OpGetK:
		default:
			return common.Outcome{}, malformed("opcode %#x in response to %s", byte(resp.Opcode), cmd.Type)
		}

		if resp.Status == StatusKeyNotFound {
			continue
		}
		if resp.Status != StatusOK {
			// keep draining up to the noop so the connection stays usable
			if failure == nil {
				failure = classifyStatus(cmd.Type, resp.Status, resp.Value).Err
			}
			continue
		}
		if int(resp.Opaque) >= len(cmd.Keys) || !bytes.Equal(resp.Key, cmd.Keys[resp.Opaque]) {
			return common.Outcome{}, malformed("value for unrequested key %q", resp.Key)
		}
		if len(resp.Extras) != 4 {
			return common.Outcome{}, malformed("get extras of %d bytes", len(resp.Extras))
		}

		entry := common.Entry{
			Key:   string(resp.Key),
			Value: resp.Value,
			Flags: binary.BigEndian.Uint32(resp.Extras),
		}
		// every binary response carries a cas, only gets exposes it
		if withCas {
			entry.CasToken, entry.HasCas = resp.Cas, true
		}
		out.Entries = append(out.Entries, entry)
	}
}

// decodeStats collects one frame per statistic until the frame with an empty key
func (c *binaryCodec) decodeStats(r *bufio.Reader, cmd *common.Command) (common.Outcome, error) {
	out := common.Outcome{Kind: common.OutcomeStored, Stats: make(map[string]string)}
	for {
		resp, err := c.readResponse(r)
		if err != nil {
			return common.Outcome{}, err
		}
		if resp.Opcode != OpStat {
			return common.Outcome{}, malformed("opcode %#x in response to %s", byte(resp.Opcode), cmd.Type)
		}
		if resp.Status != StatusOK {
			return classifyStatus(cmd.Type, resp.Status, resp.Value), nil
		}
		if len(resp.Key) == 0 {
			return out, nil
		}
		out.Stats[string(resp.Key)] = string(resp.Value)
	}
}

// readResponse reads one frame and checks the framing
func (c *binaryCodec) readResponse(r *bufio.Reader) (Frame, error) {
	resp, err := ReadFrame(r, maxResponseBody)
	if err == ErrFrameLayout {
		return Frame{}, malformed("frame with key %d, extras %d, body %d", resp.KeyLen, resp.ExtrasLen, resp.BodyLen)
	}
	if err != nil {
		return Frame{}, common.NewConnectionError(err, "reading response frame")
	}
	if resp.Magic != MagicResponse {
		return Frame{}, malformed("magic %#x", resp.Magic)
	}
	return resp, nil
}

func expectedOpcode(cmd *common.Command) Opcode {
	switch cmd.Type {
	case common.CmdIncr:
		return OpIncr
	case common.CmdDecr:
		return OpDecr
	case common.CmdDelete:
		return OpDelete
	case common.CmdFlush:
		return OpFlush
	case common.CmdVersion:
		return OpVersion
	default:
		return storeOpcodes[cmd.Type]
	}
}

// classifyStatus maps a non success status to an outcome. The meaning of
// KeyExists and KeyNotFound depends on the command.
func classifyStatus(t common.CommandType, status Status, body []byte) common.Outcome {
	switch status {
	case StatusKeyNotFound:
		if t == common.CmdReplace {
			return common.Outcome{Kind: common.OutcomeNotStored}
		}
		return common.Outcome{Kind: common.OutcomeNotFound}
	case StatusKeyExists:
		switch t {
		case common.CmdAdd:
			return common.Outcome{Kind: common.OutcomeNotStored}
		case common.CmdCas:
			return common.Outcome{Kind: common.OutcomeConflict}
		}
	case StatusNotStored:
		return common.Outcome{Kind: common.OutcomeNotStored}
	case StatusValueTooLarge, StatusOutOfMemory:
		return common.ErrorOutcome(common.NewServerError("%s", statusMessage(status, body)))
	case StatusInvalidArgs, StatusNonNumeric, StatusUnknownCommand:
		return common.ErrorOutcome(common.NewClientError("%s", statusMessage(status, body)))
	}
	return common.ErrorOutcome(common.NewProtocolError("status %#04x (%s) in response to %s", uint16(status), statusMessage(status, body), t))
}

func statusMessage(status Status, body []byte) string {
	if len(body) > 0 {
		return string(body)
	}
	return status.String()
}
