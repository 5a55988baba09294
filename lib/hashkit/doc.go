// Package hashkit provides the key hash functions used to place keys on a
// server ring. The functions produce the same 32-bit values as libmemcached,
// so a pool configured with the same servers, hash and distribution routes
// keys exactly like other compatible clients.
//
// KetamaPoints exposes the md5 based position derivation shared by the
// ketama distributions in package ring.
package hashkit
