// Package storage holds the persistence layer of the recovery relay.
//
// Record stores keep accounts, trust relationships and recovery requests:
//
//   - MemoryStore for tests and single-process deployments
//   - SQLStore for PostgreSQL (pgx) and SQLite, migrated with goose
//
// Both call into the recoverystate package inside their per-request
// transaction, so the recovery state machine is enforced identically.
//
// Blob backends keep the sealed key and vault blobs, addressed by the SHA-256
// of their content:
//
//   - file:///var/lib/social-recovery/blobs
//   - s3://bucket/prefix?region=us-east-1&endpoint=http://minio:9000
//   - ipfs://127.0.0.1:5001/social-recovery?timeout=30s
//   - vault://vault.example.com:8200/secret/social-recovery?token=...
//
// StorageBackendFactory builds backends from these URIs and MultiStorageBackend
// replicates writes across all of them. Every backend recomputes the content
// ID on Fetch and treats a mismatch as missing content.
package storage
