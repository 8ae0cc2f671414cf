// Package main (cmd/recoveryctl) is the user-side client of the social
// recovery relay.
//
// All key material stays on this machine: the vault is sealed locally,
// trustee shares are encrypted to their public keys before upload, and a
// recovering device only ever uploads its session key sealed under the new
// password. Passwords are read from the terminal with echo disabled, or one
// per line from stdin when it is not a terminal.
//
// Typical session:
//
//	recoveryctl --email alice@example.com enroll --username alice
//	recoveryctl --email alice@example.com trust add --trustee bob@example.com
//	recoveryctl --email bob@example.com trust respond --relationship <id> --decision approve
//
//	# after alice loses her device
//	recoveryctl --email alice@example.com recovery start
//	recoveryctl --email bob@example.com recovery pending
//	recoveryctl --email bob@example.com recovery submit --request <id> --relationship <id>
//	recoveryctl recovery finalize --request <id>
//
// Every command prints its result as JSON on stdout and exits non-zero when
// the flow failed.
package main
