package cryptoutils

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature was not produced by the
// expected key over the expected message.
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureSize is the length of a recoverable secp256k1 signature [R || S || V].
const SignatureSize = crypto.SignatureLength

// actionDigest binds a signature to one action on one object.
func actionDigest(action, subject string) []byte {
	return crypto.Keccak256([]byte("social-recovery:"), []byte(action), []byte{0}, []byte(subject))
}

// SignAction signs "action on subject" with the private key.
func SignAction(own Privkey, action, subject string) ([]byte, error) {
	prv, err := own.ECDSA()
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(actionDigest(action, subject), prv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", action, err)
	}
	return sig, nil
}

// VerifyAction checks that sig was produced by SignAction with the private
// half of signer for the same action and subject.
func VerifyAction(signer Pubkey, action, subject string, sig []byte) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(sig))
	}

	recovered, err := crypto.SigToPub(actionDigest(action, subject), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !bytes.Equal(crypto.FromECDSAPub(recovered), signer) {
		return ErrInvalidSignature
	}
	return nil
}
