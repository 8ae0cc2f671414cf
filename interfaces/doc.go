// Package interfaces defines the records, contracts and sentinel errors
// shared by the social recovery relay and its clients, separating them from
// their implementations.
//
// # Records
//
// Account: a user's public profile plus the opaque credentials the relay
// checks (password salt and verifier, secret verifier) and the content IDs
// of the sealed vault and sealed account key.
//
// TrustRelationship: a trustor's request that a trustee hold one share,
// encrypted to the trustee's public key, with its approval state.
//
// RecoveryRequest: one recovery attempt with its ephemeral session public
// key, the session private key sealed under the new password, and the
// shares trustees have re-encrypted to the session key.
//
// # Store Contracts
//
//   - AccountDirectory: account creation and lookup by ID or email
//   - TrustStore: relationship creation, approval transitions and listings
//   - RecoveryStore: recovery lifecycle and share collection
//   - StaleRecoveryLister: finds idle recoveries for the janitor
//   - BlobStore: content-addressed storage for sealed vaults and keys
//
// # States
//
// ApprovalState moves pending -> accepted or pending -> rejected, and
// RecoveryState follows initiated -> awaiting_shares -> reconstructable ->
// completed with abandoned reachable from any active state. The rules that
// enforce recovery transitions live in package recoverystate.
//
// # Errors
//
// The sentinel errors in this package travel across the relay API as error
// codes and are restored by the client, so callers can use errors.Is the
// same way in-process and over HTTP.
package interfaces
