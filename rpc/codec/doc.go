// Package codec translates commands into memcached wire requests and
// classifies the responses.
//
// Two dialects implement ICodec:
//
//   - text: line oriented ASCII. Keys are escaped with package keycodec,
//     values travel as length prefixed data blocks terminated by CRLF.
//
//   - binary: 24 byte headers followed by extras, key and value. Multi gets
//     are pipelined as one quiet GetKQ per key, terminated by a Noop, so misses
//     cost no response frame.
//
// Decode turns every response into a common.Outcome. Soft results (not found,
// not stored, conflict) and server reported failures are outcomes. The error
// return is reserved for I/O failures and responses that cannot be parsed;
// such a connection must be discarded.
//
// The frame helpers (Header, Frame, ReadFrame, AppendFrame) are exported for
// the mock server in package server.
package codec
