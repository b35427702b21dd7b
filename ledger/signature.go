package ledger

import (
	"golang.org/x/crypto/ed25519"
)

// Verifier checks authenticity of the signature of the owner over the message.
// Must be deterministic and free of side effects
type Verifier interface {
	Verify(owner ed25519.PublicKey, msg, sig []byte) bool
}

type VerifierFunc func(owner ed25519.PublicKey, msg, sig []byte) bool

func (f VerifierFunc) Verify(owner ed25519.PublicKey, msg, sig []byte) bool {
	return f(owner, msg, sig)
}

// ED25519Verifier is the default verifier. Malformed keys and signatures are not authentic
var ED25519Verifier Verifier = VerifierFunc(verifyED25519)

func verifyED25519(owner ed25519.PublicKey, msg, sig []byte) bool {
	if len(owner) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(owner, msg, sig)
}

// SignInput produces the signature which authorizes input inputIndex of the transaction
func SignInput(tx *Transaction, inputIndex int, privateKey ed25519.PrivateKey) ([]byte, error) {
	msg, err := tx.UnsignedPayload(inputIndex)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(privateKey, msg), nil
}
