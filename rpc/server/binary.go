package server

import (
	"bufio"
	"encoding/binary"

	"github.com/ValentinKolb/mcache/rpc/codec"
	"github.com/ValentinKolb/mcache/rpc/common"
)

// binaryStoreTypes maps the binary storage opcodes, set with a cas becomes cas
var binaryStoreTypes = map[codec.Opcode]common.CommandType{
	codec.OpSet:     common.CmdSet,
	codec.OpAdd:     common.CmdAdd,
	codec.OpReplace: common.CmdReplace,
	codec.OpAppend:  common.CmdAppend,
	codec.OpPrepend: common.CmdPrepend,
}

// serveBinary handles binary frames until quit or a read error
func (s *Server) serveBinary(r *bufio.Reader, w *bufio.Writer) error {
	maxBody := uint32(s.config.MaxItemSize) + codec.HeaderSize + codec.MaxKeyLength + 32
	var out []byte
	for {
		req, err := codec.ReadFrame(r, maxBody)
		if err != nil {
			return err
		}
		if req.Magic != codec.MagicRequest {
			return codec.ErrFrameLayout
		}

		out = s.handleFrame(out[:0], req)
		if _, err := w.Write(out); err != nil {
			return err
		}
		if req.Opcode == codec.OpQuit {
			return w.Flush()
		}
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

// handleFrame appends the response of one request to dst, quiet misses append nothing
func (s *Server) handleFrame(dst []byte, req codec.Frame) []byte {
	resp := codec.Frame{Header: codec.Header{
		Magic:  codec.MagicResponse,
		Opcode: req.Opcode,
		Opaque: req.Opaque,
	}}
	fail := func(status codec.Status) []byte {
		resp.Status = status
		resp.Value = []byte(status.String())
		return codec.AppendFrame(dst, resp)
	}

	if len(req.Key) > codec.MaxKeyLength {
		return fail(codec.StatusInvalidArgs)
	}

	switch req.Opcode {
	case codec.OpGet, codec.OpGetQ, codec.OpGetK, codec.OpGetKQ:
		quiet := req.Opcode == codec.OpGetQ || req.Opcode == codec.OpGetKQ
		it, ok := s.store.get(string(req.Key))
		if !ok {
			if quiet {
				return dst
			}
			return fail(codec.StatusKeyNotFound)
		}
		resp.Extras = binary.BigEndian.AppendUint32(nil, it.flags)
		if req.Opcode == codec.OpGetK || req.Opcode == codec.OpGetKQ {
			resp.Key = req.Key
		}
		resp.Value = it.value
		resp.Cas = it.cas
		return codec.AppendFrame(dst, resp)

	case codec.OpSet, codec.OpAdd, codec.OpReplace, codec.OpAppend, codec.OpPrepend:
		t := binaryStoreTypes[req.Opcode]
		var flags, exptime uint32
		if t == common.CmdAppend || t == common.CmdPrepend {
			if len(req.Extras) != 0 {
				return fail(codec.StatusInvalidArgs)
			}
		} else {
			if len(req.Extras) != 8 {
				return fail(codec.StatusInvalidArgs)
			}
			flags = binary.BigEndian.Uint32(req.Extras[0:4])
			exptime = binary.BigEndian.Uint32(req.Extras[4:8])
		}
		if req.Cas != 0 {
			t = common.CmdCas
		}

		res, cas := s.store.store(t, string(req.Key), req.Value, flags, exptime, req.Cas)
		switch res {
		case resStored:
			resp.Cas = cas
			return codec.AppendFrame(dst, resp)
		case resTooLarge:
			return fail(codec.StatusValueTooLarge)
		case resExists:
			return fail(codec.StatusKeyExists)
		case resNotFound:
			return fail(codec.StatusKeyNotFound)
		case resNotStored:
			if req.Opcode == codec.OpAdd {
				return fail(codec.StatusKeyExists)
			}
			if req.Opcode == codec.OpReplace {
				return fail(codec.StatusKeyNotFound)
			}
			return fail(codec.StatusNotStored)
		}
		return fail(codec.StatusInvalidArgs)

	case codec.OpIncr, codec.OpDecr:
		if len(req.Extras) != 20 {
			return fail(codec.StatusInvalidArgs)
		}
		delta := binary.BigEndian.Uint64(req.Extras[0:8])
		initial := binary.BigEndian.Uint64(req.Extras[8:16])
		exptime := binary.BigEndian.Uint32(req.Extras[16:20])
		create := exptime != codec.NoCreate
		if !create {
			exptime = 0
		}

		n, cas, res := s.store.arith(string(req.Key), req.Opcode == codec.OpIncr, delta, create, initial, exptime)
		switch res {
		case resNotFound:
			return fail(codec.StatusKeyNotFound)
		case resNonNumeric:
			return fail(codec.StatusNonNumeric)
		}
		resp.Cas = cas
		resp.Value = binary.BigEndian.AppendUint64(nil, n)
		return codec.AppendFrame(dst, resp)

	case codec.OpDelete:
		if s.store.delete(string(req.Key)) != resStored {
			return fail(codec.StatusKeyNotFound)
		}
		return codec.AppendFrame(dst, resp)

	case codec.OpFlush:
		var delay uint32
		if len(req.Extras) == 4 {
			delay = binary.BigEndian.Uint32(req.Extras)
		}
		s.store.flush(delay)
		return codec.AppendFrame(dst, resp)

	case codec.OpVersion:
		resp.Value = []byte(s.config.Version)
		return codec.AppendFrame(dst, resp)

	case codec.OpStat:
		if len(req.Key) != 0 {
			return fail(codec.StatusKeyNotFound)
		}
		for _, st := range s.Stats() {
			resp.Key, resp.Value = []byte(st.Name), []byte(st.Value)
			dst = codec.AppendFrame(dst, resp)
		}
		resp.Key, resp.Value = nil, nil
		return codec.AppendFrame(dst, resp)

	case codec.OpNoop, codec.OpQuit:
		return codec.AppendFrame(dst, resp)

	default:
		return fail(codec.StatusUnknownCommand)
	}
}
