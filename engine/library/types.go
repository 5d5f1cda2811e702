package library

// KeyPair is the opaque key material backing an OwnIdentity. The network
// layer is responsible for everything cryptographic beyond generating and
// holding these bytes; the engine never inspects them except to derive an
// IdentityID.
type KeyPair struct {
	PrivateKey string
	SeedWords  string
	Account    IdentityID
	// PubKeyHex is the secp256k1 x-only public key, hex-encoded, as the
	// nostr transport needs it. Account is derived from it but is not
	// the same encoding, so both are kept.
	PubKeyHex string
}

// IdentityID is the 43-char base64 routing key identifying an Identity.
type IdentityID = string

// Sha256 is a hex-encoded SHA-256 digest.
type Sha256 = string
