// Package relay is the HTTP face of the record and blob stores.
//
// The relay never sees plaintext shares, passwords or secrets. It stores what
// clients upload, enforces who may act on a trust relationship, and checks
// the session key signature or secret proof before a recoverer acts on a
// request. All protocol state transitions are applied by the stores through
// recoverystate, exactly as they would be in-process.
package relay
