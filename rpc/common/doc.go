// Package common provides the data model shared by the client, the codecs,
// the transports and the mock server.
//
// Key Components:
//
//   - ServerEndpoint: an immutable host, port and weight triple parsed from
//     "host[:port[:weight]]". Unix socket paths are endpoints with port 0.
//
//   - ClientConfig: the configuration consumed when a client is constructed,
//     covering the server list, key prefix, hash function, distribution,
//     dialect and transport settings.
//
//   - Command and Outcome: the request handed to a codec and the classified
//     response it decodes. Soft outcomes (not found, not stored, conflict) are
//     outcome kinds, never errors.
//
//   - Error: the error taxonomy (server, client, connection, protocol and
//     invalid argument) with sentinels for errors.Is, and MultiError for
//     fanned out requests.
//
//   - Logger: a dragonboat logger factory providing consistent formatting for
//     the named loggers of the module.
package common
