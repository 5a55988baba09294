// Package keycodec implements the reversible key transform required by the
// memcached text dialect.
//
// The text dialect separates tokens with whitespace, so a key containing a
// space or a newline would corrupt the command line. Escape rewrites every
// whitespace byte and every backslash into a two byte sequence:
//
//	' '  -> \s     '\t' -> \t     '\n' -> \n
//	'\v' -> \v     '\f' -> \f     '\r' -> \r
//	'\\' -> \\
//
// All other bytes are left untouched, which makes the transform a bijection:
// Unescape(Escape(k)) == k for every key. Unescape rejects a lone trailing
// backslash and unknown escape letters instead of guessing.
//
// The binary dialect carries keys as length prefixed byte strings, so
// NewBinaryKeyCodec returns an identity codec.
package keycodec
