package server

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/ValentinKolb/mcache/rpc/codec"
	"github.com/ValentinKolb/mcache/rpc/common"
)

var textCommands = map[string]common.CommandType{
	"get":     common.CmdGet,
	"gets":    common.CmdGets,
	"set":     common.CmdSet,
	"add":     common.CmdAdd,
	"replace": common.CmdReplace,
	"append":  common.CmdAppend,
	"prepend": common.CmdPrepend,
	"cas":     common.CmdCas,
	"incr":    common.CmdIncr,
	"decr":    common.CmdDecr,
	"delete":  common.CmdDelete,
}

const (
	textBadFormat  = "CLIENT_ERROR bad command line format"
	textBadChunk   = "CLIENT_ERROR bad data chunk"
	textNonNumeric = "CLIENT_ERROR cannot increment or decrement non-numeric value"
	textBadDelta   = "CLIENT_ERROR invalid numeric delta argument"
	textTooLarge   = "SERVER_ERROR object too large for cache"
)

// textConn is the state of one text dialect connection
type textConn struct {
	s *Server
	r *bufio.Reader
	w *bufio.Writer
}

// serveText handles commands until quit or a read error
func (s *Server) serveText(r *bufio.Reader, w *bufio.Writer) error {
	c := &textConn{s: s, r: r, w: w}
	for {
		line, err := r.ReadSlice('\n')
		if err != nil {
			return err
		}
		fields := bytes.Fields(line)
		if len(fields) == 0 {
			c.reply("ERROR")
		} else if quit := c.handle(fields); quit {
			return w.Flush()
		}

		// answer pipelined commands in one write
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

// handle runs one command line, the fields alias the read buffer
func (c *textConn) handle(fields [][]byte) (quit bool) {
	verb := string(fields[0])
	switch verb {
	case "quit":
		return true
	case "version":
		c.reply("VERSION " + c.s.config.Version)
		return false
	case "flush_all":
		c.flush(fields[1:])
		return false
	case "stats":
		c.stats(fields[1:])
		return false
	}

	t, ok := textCommands[verb]
	if !ok {
		c.reply("ERROR")
		return false
	}
	for _, k := range fields[1:] {
		if len(k) > codec.MaxKeyLength {
			c.reply(textBadFormat)
			return false
		}
	}

	switch {
	case t.IsRetrieval():
		c.get(fields[1:], t == common.CmdGets)
	case t.IsStorage():
		return c.storeCmd(t, fields[1:])
	case t == common.CmdIncr || t == common.CmdDecr:
		c.arith(t == common.CmdIncr, fields[1:])
	case t == common.CmdDelete:
		c.delete(fields[1:])
	}
	return false
}

func (c *textConn) get(keys [][]byte, withCas bool) {
	if len(keys) == 0 {
		c.reply("ERROR")
		return
	}
	for _, k := range keys {
		it, ok := c.s.store.get(string(k))
		if !ok {
			continue
		}
		b := c.w.AvailableBuffer()
		b = append(b, "VALUE "...)
		b = append(b, k...)
		b = append(b, ' ')
		b = strconv.AppendUint(b, uint64(it.flags), 10)
		b = append(b, ' ')
		b = strconv.AppendInt(b, int64(len(it.value)), 10)
		if withCas {
			b = append(b, ' ')
			b = strconv.AppendUint(b, it.cas, 10)
		}
		b = append(b, "\r\n"...)
		_, _ = c.w.Write(b)
		_, _ = c.w.Write(it.value)
		_, _ = c.w.WriteString("\r\n")
	}
	c.reply("END")
}

// stats answers the general statistics, sub groups are not supported
func (c *textConn) stats(args [][]byte) {
	if len(args) != 0 {
		c.reply("ERROR")
		return
	}
	for _, st := range c.s.Stats() {
		c.reply("STAT " + st.Name + " " + st.Value)
	}
	c.reply("END")
}

// storeCmd reads the data block of a storage command. A malformed command
// line leaves the stream unsynchronized, so the connection is closed.
func (c *textConn) storeCmd(t common.CommandType, args [][]byte) (quit bool) {
	want := 4
	if t == common.CmdCas {
		want = 5
	}
	noreply := len(args) == want+1 && string(args[want]) == "noreply"
	if len(args) != want && !noreply {
		c.reply(textBadFormat)
		return true
	}

	key := string(args[0])
	flags, err1 := strconv.ParseUint(string(args[1]), 10, 32)
	exptime, err2 := strconv.ParseUint(string(args[2]), 10, 32)
	size, err3 := strconv.ParseUint(string(args[3]), 10, 31)
	var casToken uint64
	var err4 error
	if t == common.CmdCas {
		casToken, err4 = strconv.ParseUint(string(args[4]), 10, 64)
	}
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		c.reply(textBadFormat)
		return true
	}

	data := make([]byte, size+2)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return true
	}
	if !bytes.HasSuffix(data, []byte("\r\n")) {
		c.reply(textBadChunk)
		return true
	}

	res, _ := c.s.store.store(t, key, data[:size:size], uint32(flags), uint32(exptime), casToken)
	if noreply {
		return false
	}
	switch res {
	case resStored:
		c.reply("STORED")
	case resNotStored:
		c.reply("NOT_STORED")
	case resExists:
		c.reply("EXISTS")
	case resNotFound:
		c.reply("NOT_FOUND")
	case resTooLarge:
		c.reply(textTooLarge)
	}
	return false
}

func (c *textConn) arith(incr bool, args [][]byte) {
	noreply := len(args) == 3 && string(args[2]) == "noreply"
	if len(args) != 2 && !noreply {
		c.reply("ERROR")
		return
	}
	delta, err := strconv.ParseUint(string(args[1]), 10, 64)
	if err != nil {
		c.reply(textBadDelta)
		return
	}

	n, _, res := c.s.store.arith(string(args[0]), incr, delta, false, 0, 0)
	if noreply {
		return
	}
	switch res {
	case resStored:
		c.reply(strconv.FormatUint(n, 10))
	case resNotFound:
		c.reply("NOT_FOUND")
	case resNonNumeric:
		c.reply(textNonNumeric)
	}
}

func (c *textConn) delete(args [][]byte) {
	// "delete key 0" is accepted for old clients
	noreply := len(args) > 1 && string(args[len(args)-1]) == "noreply"
	if noreply {
		args = args[:len(args)-1]
	}
	if len(args) == 0 || len(args) > 2 || (len(args) == 2 && string(args[1]) != "0") {
		c.reply(textBadFormat)
		return
	}

	res := c.s.store.delete(string(args[0]))
	if noreply {
		return
	}
	if res == resStored {
		c.reply("DELETED")
	} else {
		c.reply("NOT_FOUND")
	}
}

func (c *textConn) flush(args [][]byte) {
	noreply := len(args) > 0 && string(args[len(args)-1]) == "noreply"
	if noreply {
		args = args[:len(args)-1]
	}
	var delay uint64
	if len(args) == 1 {
		var err error
		if delay, err = strconv.ParseUint(string(args[0]), 10, 32); err != nil {
			c.reply(textBadFormat)
			return
		}
	} else if len(args) > 1 {
		c.reply(textBadFormat)
		return
	}

	c.s.store.flush(uint32(delay))
	if !noreply {
		c.reply("OK")
	}
}

func (c *textConn) reply(line string) {
	_, _ = c.w.WriteString(line)
	_, _ = c.w.WriteString("\r\n")
}
