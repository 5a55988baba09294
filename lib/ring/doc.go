// Package ring decides which server owns a key.
//
// A ServerPool combines an ordered server list, a hash function from package
// hashkit and a Distribution:
//
//   - Modulo routes to hash(key) % len(servers).
//   - Consistent places 100 points per server on a continuum at
//     hash("host:port-i"). Removing a server only moves the keys it owned.
//   - Ketama places points proportional to the server weight. Each md5 digest
//     of "host:port-i" yields four points.
//   - KetamaSpy is Ketama with the "/host:port-i" identity used by
//     spymemcached, so both client families agree on placement.
//
// A key is owned by the first point at or after its hash, wrapping around to
// the first point. Pools are immutable; a changed server set means a new pool.
package ring
