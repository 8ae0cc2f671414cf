// Package registry manages the trust relationships of the recovery protocol.
//
// A trust relationship records that a trustor handed one share of its account
// secret, encrypted to the trustee's public key, to a trustee identified by
// email. The Registry applies the approval rules:
//
//	pending  -> accepted   (Approve)
//	pending  -> rejected   (Reject, the share ciphertext is dropped)
//
// Repeating the current decision is a no-op; any other transition fails with
// interfaces.ErrInvalidTransition. Rejected relationships stay in the store so
// their share index remains reserved and a late approval cannot resurrect
// them. Revoke deletes a relationship on behalf of the trustor.
//
// # Views
//
// ListTrustedByMe and ListTrustingMe are the trustor's and the trustee's view
// over the same records, both ordered by creation time and then ID.
// EligibleHolders narrows the trustor's view to accepted relationships: the
// parties whose shares can contribute to a recovery.
//
// # Storage
//
// The Registry holds no state of its own. Every write is a single
// relationship transaction in the interfaces.TrustStore it wraps, so the same
// rules apply whether the store is in memory, in SQL or behind the relay's
// HTTP API.
//
// MockTrustStore and MockAccountDirectory are testify mocks of the store
// contracts for use in tests.
package registry
