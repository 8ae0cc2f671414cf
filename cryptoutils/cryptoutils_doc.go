// Package cryptoutils provides the cryptographic primitives of the social
// recovery protocol.
//
// # Key Types
//
// Pubkey and Privkey wrap secp256k1 key material as produced by
// go-ethereum's crypto package. Every account has one long-term keypair and
// every recovery attempt generates one ephemeral session keypair.
//
// # Transport Codec
//
// EncryptFor and DecryptWith move shares between parties without the relay
// being able to read or modify them. The scheme is ECIES as implemented by
// go-ethereum (ECDH on secp256k1, NIST concatenation KDF, AES-128-CTR and
// HMAC-SHA256), so ciphertexts are authenticated. Plaintexts are
// length-prefixed and zero-padded to PaddingQuantum bytes, hiding lengths
// within a quantum. A context label is bound into the KDF and the MAC:
//
//	trust-share:<trustor account id>
//	recovery-share:<recovery request id>
//
// # Key Derivation
//
//   - DerivePasswordKey: argon2id (t=1, m=64 MiB, p=4) over a random salt
//   - PasswordVerifier: SHA-256 of the argon2id key, stored by the relay
//   - SecretVerifier, AccountSealingKey: HKDF-SHA256 over the account secret
//
// # Symmetric Sealing
//
// SealAESGCM and OpenAESGCM implement AES-256-GCM with a random 12-byte nonce
// prepended to the ciphertext:
//
//	[nonce (12 bytes)][ciphertext][tag (16 bytes)]
package cryptoutils
