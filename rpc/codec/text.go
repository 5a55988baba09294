package codec

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/ValentinKolb/mcache/lib/keycodec"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/valyala/bytebufferpool"
)

var crlf = []byte("\r\n")

// response words of the text dialect
var (
	respStored    = []byte("STORED")
	respNotStored = []byte("NOT_STORED")
	respExists    = []byte("EXISTS")
	respNotFound  = []byte("NOT_FOUND")
	respDeleted   = []byte("DELETED")
	respOK        = []byte("OK")
	respEnd       = []byte("END")
	respValue     = []byte("VALUE ")
	respVersion   = []byte("VERSION ")
	respStat      = []byte("STAT ")

	respError       = []byte("ERROR")
	respClientError = []byte("CLIENT_ERROR")
	respServerError = []byte("SERVER_ERROR")
)

// textCodec implements the line oriented ASCII dialect
type textCodec struct {
	keys keycodec.ICodec
}

// NewTextCodec returns the codec for the text dialect
func NewTextCodec() ICodec {
	return &textCodec{keys: keycodec.NewTextKeyCodec()}
}

func (c *textCodec) Name() string {
	return "text"
}

func (c *textCodec) Binary() bool {
	return false
}

func (c *textCodec) EncodeKey(key []byte) []byte {
	wire, _ := c.keys.Escape(key)
	return wire
}

func (c *textCodec) DecodeKey(wire []byte) ([]byte, error) {
	return c.keys.Unescape(wire)
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

func (c *textCodec) Encode(buf *bytebufferpool.ByteBuffer, cmd *common.Command) error {
	if err := validateKeys(c.keys, cmd); err != nil {
		return err
	}

	switch cmd.Type {
	case common.CmdGet, common.CmdGets:
		buf.WriteString(cmd.Type.String())
		for _, k := range cmd.Keys {
			buf.WriteByte(' ')
			buf.Write(c.EncodeKey(k))
		}

	case common.CmdSet, common.CmdAdd, common.CmdReplace, common.CmdAppend, common.CmdPrepend, common.CmdCas:
		buf.WriteString(cmd.Type.String())
		buf.WriteByte(' ')
		buf.Write(c.EncodeKey(cmd.Key()))
		buf.B = append(buf.B, ' ')
		buf.B = strconv.AppendUint(buf.B, uint64(cmd.Flags), 10)
		buf.B = append(buf.B, ' ')
		buf.B = strconv.AppendUint(buf.B, uint64(cmd.Expiry), 10)
		buf.B = append(buf.B, ' ')
		buf.B = strconv.AppendInt(buf.B, int64(len(cmd.Value)), 10)
		if cmd.Type == common.CmdCas {
			buf.B = append(buf.B, ' ')
			buf.B = strconv.AppendUint(buf.B, cmd.CasToken, 10)
		}
		buf.Write(crlf)
		buf.Write(cmd.Value)

	case common.CmdIncr, common.CmdDecr:
		buf.WriteString(cmd.Type.String())
		buf.WriteByte(' ')
		buf.Write(c.EncodeKey(cmd.Key()))
		buf.B = append(buf.B, ' ')
		buf.B = strconv.AppendUint(buf.B, cmd.Delta, 10)

	case common.CmdDelete:
		buf.WriteString("delete ")
		buf.Write(c.EncodeKey(cmd.Key()))

	case common.CmdFlush:
		buf.WriteString("flush_all")
		if cmd.Delay > 0 {
			buf.B = append(buf.B, ' ')
			buf.B = strconv.AppendUint(buf.B, uint64(cmd.Delay), 10)
		}

	case common.CmdVersion:
		buf.WriteString("version")

	case common.CmdStats:
		buf.WriteString("stats")

	default:
		return common.NewInvalidArgumentError("unsupported command %s", cmd.Type)
	}

	buf.Write(crlf)
	return nil
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

func (c *textCodec) Decode(r *bufio.Reader, cmd *common.Command) (common.Outcome, error) {
	if cmd.Type.IsRetrieval() {
		return c.decodeValues(r, cmd)
	}
	if cmd.Type == common.CmdStats {
		return c.decodeStats(r, cmd)
	}

	line, err := readLine(r)
	if err != nil {
		return common.Outcome{}, err
	}
	if out, ok := textErrorOutcome(line); ok {
		return out, nil
	}

	switch cmd.Type {
	case common.CmdSet, common.CmdAdd, common.CmdReplace, common.CmdAppend, common.CmdPrepend, common.CmdCas:
		switch {
		case bytes.Equal(line, respStored):
			return common.Outcome{Kind: common.OutcomeStored}, nil
		case bytes.Equal(line, respNotStored):
			return common.Outcome{Kind: common.OutcomeNotStored}, nil
		case bytes.Equal(line, respExists):
			return common.Outcome{Kind: common.OutcomeConflict}, nil
		case bytes.Equal(line, respNotFound):
			return common.Outcome{Kind: common.OutcomeNotFound}, nil
		}

	case common.CmdIncr, common.CmdDecr:
		if bytes.Equal(line, respNotFound) {
			return common.Outcome{Kind: common.OutcomeNotFound}, nil
		}
		// older servers pad shrinking counters with spaces
		if num := bytes.TrimRight(line, " "); isDigits(num) {
			n, err := strconv.ParseUint(string(num), 10, 64)
			if err != nil {
				return common.Outcome{}, malformed("counter %q out of range", num)
			}
			return common.Outcome{Kind: common.OutcomeStored, Counter: n}, nil
		}

	case common.CmdDelete:
		switch {
		case bytes.Equal(line, respDeleted):
			return common.Outcome{Kind: common.OutcomeStored}, nil
		case bytes.Equal(line, respNotFound):
			return common.Outcome{Kind: common.OutcomeNotFound}, nil
		}

	case common.CmdFlush:
		if bytes.Equal(line, respOK) {
			return common.Outcome{Kind: common.OutcomeStored}, nil
		}

	case common.CmdVersion:
		if bytes.HasPrefix(line, respVersion) {
			version := append([]byte(nil), line[len(respVersion):]...)
			return common.Outcome{Kind: common.OutcomeStored, Value: version}, nil
		}
	}

	return unexpectedLine(cmd, line)
}

// decodeValues reads VALUE blocks up to END
func (c *textCodec) decodeValues(r *bufio.Reader, cmd *common.Command) (common.Outcome, error) {
	out := common.Outcome{Kind: common.OutcomeRetrieved}
	withCas := cmd.Type == common.CmdGets

	for {
		line, err := readLine(r)
		if err != nil {
			return common.Outcome{}, err
		}
		if bytes.Equal(line, respEnd) {
			return out, nil
		}
		if e, ok := textErrorOutcome(line); ok {
			return e, nil
		}
		if !bytes.HasPrefix(line, respValue) {
			return unexpectedLine(cmd, line)
		}

		fields := bytes.Fields(line[len(respValue):])
		if len(fields) != 3 && len(fields) != 4 {
			return common.Outcome{}, malformed("value header %q", line)
		}
		key, err := c.DecodeKey(fields[0])
		if err != nil {
			return common.Outcome{}, malformed("value key %q: %v", fields[0], err)
		}
		flags, err1 := strconv.ParseUint(string(fields[1]), 10, 32)
		size, err2 := strconv.ParseUint(string(fields[2]), 10, 31)
		if err1 != nil || err2 != nil {
			return common.Outcome{}, malformed("value header %q", line)
		}

		entry := common.Entry{Key: string(key), Flags: uint32(flags)}
		if len(fields) == 4 {
			token, err := strconv.ParseUint(string(fields[3]), 10, 64)
			if err != nil {
				return common.Outcome{}, malformed("cas token in %q", line)
			}
			if withCas {
				entry.CasToken, entry.HasCas = token, true
			}
		}

		data := make([]byte, size+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return common.Outcome{}, common.NewConnectionError(err, "reading value of %d bytes", size)
		}
		if !bytes.HasSuffix(data, crlf) {
			return common.Outcome{}, malformed("value of %q not terminated by CRLF", key)
		}
		entry.Value = data[:size:size]
		out.Entries = append(out.Entries, entry)
	}
}

// decodeStats reads STAT lines up to END
func (c *textCodec) decodeStats(r *bufio.Reader, cmd *common.Command) (common.Outcome, error) {
	out := common.Outcome{Kind: common.OutcomeStored, Stats: make(map[string]string)}
	for {
		line, err := readLine(r)
		if err != nil {
			return common.Outcome{}, err
		}
		if bytes.Equal(line, respEnd) {
			return out, nil
		}
		if e, ok := textErrorOutcome(line); ok {
			return e, nil
		}
		if !bytes.HasPrefix(line, respStat) {
			return unexpectedLine(cmd, line)
		}
		name, value, _ := bytes.Cut(line[len(respStat):], []byte(" "))
		if len(name) == 0 {
			return common.Outcome{}, malformed("stat line %q", line)
		}
		out.Stats[string(name)] = string(value)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// readLine reads one CRLF terminated line and returns it without the CRLF.
// The slice is only valid until the next read.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, malformed("response line exceeds %d bytes", r.Size())
	}
	if err != nil {
		return nil, common.NewConnectionError(err, "reading response line")
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, malformed("response line %q not terminated by CRLF", line)
	}
	return line[:len(line)-2], nil
}

// textErrorOutcome maps ERROR, CLIENT_ERROR and SERVER_ERROR lines
func textErrorOutcome(line []byte) (common.Outcome, bool) {
	switch {
	case bytes.Equal(line, respError):
		return common.ErrorOutcome(common.NewClientError("unknown command")), true
	case bytes.HasPrefix(line, respClientError):
		return common.ErrorOutcome(common.NewClientError("%s", errorMessage(line, respClientError))), true
	case bytes.HasPrefix(line, respServerError):
		return common.ErrorOutcome(common.NewServerError("%s", errorMessage(line, respServerError))), true
	}
	return common.Outcome{}, false
}

func errorMessage(line, word []byte) string {
	return string(bytes.TrimSpace(line[len(word):]))
}

// unexpectedLine classifies a line that is not a valid answer to cmd. A well
// formed status word is a protocol error, anything else leaves the stream in
// an unknown state.
func unexpectedLine(cmd *common.Command, line []byte) (common.Outcome, error) {
	if isStatusWord(line) {
		return common.ErrorOutcome(common.NewProtocolError("unexpected response %q to %s", line, cmd.Type)), nil
	}
	return common.Outcome{}, malformed("unexpected response %q to %s", line, cmd.Type)
}

func isStatusWord(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	for _, b := range line {
		if (b < 'A' || b > 'Z') && b != '_' {
			return false
		}
	}
	return true
}

func isDigits(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	for _, b := range line {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}
