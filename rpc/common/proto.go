package common

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Command Types
// --------------------------------------------------------------------------

// CommandType enumerates the memcached commands the client issues
type CommandType uint8

const (
	CmdGet CommandType = iota
	CmdGets
	CmdSet
	CmdAdd
	CmdReplace
	CmdCas
	CmdAppend
	CmdPrepend
	CmdIncr
	CmdDecr
	CmdDelete
	CmdFlush
	CmdVersion
	CmdStats
)

var commandNames = [...]string{
	CmdGet:     "get",
	CmdGets:    "gets",
	CmdSet:     "set",
	CmdAdd:     "add",
	CmdReplace: "replace",
	CmdCas:     "cas",
	CmdAppend:  "append",
	CmdPrepend: "prepend",
	CmdIncr:    "incr",
	CmdDecr:    "decr",
	CmdDelete:  "delete",
	CmdFlush:   "flush_all",
	CmdVersion: "version",
	CmdStats:   "stats",
}

// String returns the text dialect verb of the command
func (t CommandType) String() string {
	if int(t) < len(commandNames) {
		return commandNames[t]
	}
	return fmt.Sprintf("command(%d)", uint8(t))
}

// IsRetrieval reports whether the command reads values
func (t CommandType) IsRetrieval() bool {
	return t == CmdGet || t == CmdGets
}

// IsStorage reports whether the command carries a value
func (t CommandType) IsStorage() bool {
	switch t {
	case CmdSet, CmdAdd, CmdReplace, CmdCas, CmdAppend, CmdPrepend:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Command Structure
// --------------------------------------------------------------------------

// Command is one request to a single server. Keys hold the prefixed caller
// keys, escaping is applied by the codec. Which fields are used depends on
// the type of command.
type Command struct {
	Type CommandType

	Keys     [][]byte // one key, or several for get/gets
	Value    []byte   // storage commands
	Flags    uint32   // storage commands
	Expiry   uint32   // storage commands (seconds or unix time)
	CasToken uint64   // cas
	Delta    uint64   // incr, decr
	Delay    uint32   // flush
}

// Key returns the first key of the command
func (c *Command) Key() []byte {
	if len(c.Keys) == 0 {
		return nil
	}
	return c.Keys[0]
}

// --------------------------------------------------------------------------
// Command Factory Functions
// --------------------------------------------------------------------------

// NewGetCommand creates a get for one or more keys. withCas selects gets.
func NewGetCommand(withCas bool, keys ...[]byte) *Command {
	t := CmdGet
	if withCas {
		t = CmdGets
	}
	return &Command{Type: t, Keys: keys}
}

// NewStoreCommand creates a set, add, replace, append or prepend
func NewStoreCommand(t CommandType, key, value []byte, expiry, flags uint32) *Command {
	return &Command{Type: t, Keys: [][]byte{key}, Value: value, Expiry: expiry, Flags: flags}
}

// NewCasCommand creates a cas
func NewCasCommand(key, value []byte, casToken uint64, expiry, flags uint32) *Command {
	return &Command{Type: CmdCas, Keys: [][]byte{key}, Value: value, CasToken: casToken, Expiry: expiry, Flags: flags}
}

// NewArithCommand creates an incr (decr when decrement is set)
func NewArithCommand(decrement bool, key []byte, delta uint64) *Command {
	t := CmdIncr
	if decrement {
		t = CmdDecr
	}
	return &Command{Type: t, Keys: [][]byte{key}, Delta: delta}
}

// NewDeleteCommand creates a delete
func NewDeleteCommand(key []byte) *Command {
	return &Command{Type: CmdDelete, Keys: [][]byte{key}}
}

// NewFlushCommand creates a flush_all, delay 0 flushes immediately
func NewFlushCommand(delay uint32) *Command {
	return &Command{Type: CmdFlush, Delay: delay}
}

// NewVersionCommand creates a version request
func NewVersionCommand() *Command {
	return &Command{Type: CmdVersion}
}

// NewStatsCommand creates a request for the general statistics of a server
func NewStatsCommand() *Command {
	return &Command{Type: CmdStats}
}

// --------------------------------------------------------------------------
// Outcome
// --------------------------------------------------------------------------

// OutcomeKind classifies the response to a command
type OutcomeKind uint8

const (
	// OutcomeStored means the server applied the command (STORED, DELETED, OK, counter, version)
	OutcomeStored OutcomeKind = iota
	// OutcomeRetrieved means a get completed, Entries may be empty
	OutcomeRetrieved
	OutcomeNotFound
	OutcomeNotStored
	// OutcomeConflict means the cas token was stale
	OutcomeConflict
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStored:
		return "stored"
	case OutcomeRetrieved:
		return "retrieved"
	case OutcomeNotFound:
		return "not found"
	case OutcomeNotStored:
		return "not stored"
	case OutcomeConflict:
		return "conflict"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is a value read from the cache. CasToken is only meaningful when
// HasCas is set, and must be passed back unmodified.
type Entry struct {
	Key      string
	Value    []byte
	Flags    uint32
	CasToken uint64
	HasCas   bool
}

// Outcome is the decoded response to one command
type Outcome struct {
	Kind    OutcomeKind
	Value   []byte            // version string
	Entries []Entry           // get, gets
	Counter uint64            // incr, decr
	Stats   map[string]string // stats, by statistic name
	Err     error             // set when Kind is OutcomeError
}

// ErrorOutcome wraps a server reported error
func ErrorOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}
