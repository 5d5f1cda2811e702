package library

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

func Sha256Sum(data interface{}) Sha256 {
	var b []byte
	switch d := data.(type) {
	case string:
		b = []byte(d)
	case []byte:
		b = d
	default:
		Log("attempted to hash non-string or non-[]byte", 0)
	}
	h := sha256.New()
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// RoutingKeyToIdentityID derives the 43-char base64 identity-id from the
// 32-byte routing key of a public key: "base64 of the routing key of the
// identity's public key".
func RoutingKeyToIdentityID(routingKey [32]byte) IdentityID {
	return base64.RawURLEncoding.EncodeToString(routingKey[:])
}

// NewKeyPair generates a fresh secp256k1 key pair the way the network
// layer would hand one to a new OwnIdentity. Signing and verification
// remain the opaque network layer's job; the engine only ever consumes
// the derived IdentityID.
func NewKeyPair() (KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	pub := priv.PubKey()
	routingKey := sha256.Sum256(pub.SerializeCompressed())
	return KeyPair{
		PrivateKey: fmt.Sprintf("%x", priv.Serialize()),
		Account:    RoutingKeyToIdentityID(routingKey),
		PubKeyHex:  fmt.Sprintf("%x", pub.SerializeCompressed()[1:]),
	}, nil
}
