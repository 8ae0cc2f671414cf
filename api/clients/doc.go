/*
Package clients provides the HTTP client for the social recovery relay.

RelayClient implements every store contract of package interfaces
(AccountDirectory, TrustStore, RecoveryStore and BlobStore) over the relay
API, so a recovery.Orchestrator running on a user's machine can use one
RelayClient for all four.

# Authentication

Trust routes and share submission require a login token. Login derives the
password verifier locally from the account's salt, exchanges it for a token
and attaches the token to later requests until Logout. The password itself
never leaves the process.

# Errors

Error responses carry a code that is mapped back to the matching sentinel
error, so errors.Is(err, interfaces.ErrNotFound) works the same as against an
in-process store. Network failures and unexpected statuses are reported as
interfaces.ErrBackendUnavailable.

# Blob Integrity

Fetch recomputes the content ID of every blob it receives and rejects
mismatches, so a relay cannot substitute a vault or key.
*/
package clients
