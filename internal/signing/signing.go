package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// SS58Format is the substrate generic address format used for hotkeys.
const SS58Format = 42

var ss58Preamble = []byte("SS58PRE")

var (
	ErrInvalidAddress   = errors.New("invalid ss58 address")
	ErrInvalidSignature = errors.New("invalid signature")
)

// SS58Encode renders a 32-byte public key as an SS58 address.
func SS58Encode(pub ed25519.PublicKey) string {
	data := make([]byte, 0, 1+ed25519.PublicKeySize+2)
	data = append(data, SS58Format)
	data = append(data, pub...)
	data = append(data, ss58Checksum(data)...)
	return base58.Encode(data)
}

// SS58Decode extracts the public key from an SS58 address, verifying the
// format byte and checksum.
func SS58Decode(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 1+ed25519.PublicKeySize+2 {
		return nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}
	if raw[0] != SS58Format {
		return nil, fmt.Errorf("%w: unexpected format byte %d", ErrInvalidAddress, raw[0])
	}
	body := raw[:len(raw)-2]
	checksum := raw[len(raw)-2:]
	expected := ss58Checksum(body)
	if checksum[0] != expected[0] || checksum[1] != expected[1] {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return ed25519.PublicKey(raw[1 : 1+ed25519.PublicKeySize]), nil
}

func ss58Checksum(data []byte) []byte {
	h, _ := blake2b.New512(nil)
	h.Write(ss58Preamble)
	h.Write(data)
	return h.Sum(nil)[:2]
}

// Verify checks a hex signature over message against the public key encoded
// in the hotkey address. Any decoding failure counts as a bad signature.
func Verify(hotkey string, message []byte, signatureHex string) bool {
	pub, err := SS58Decode(hotkey)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// Keypair is a hotkey identity: an ed25519 key and its SS58 address.
type Keypair struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv, pub: pub, address: SS58Encode(pub)}, nil
}

// FromSeed builds a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, pub: pub, address: SS58Encode(pub)}, nil
}

// Address returns the SS58 hotkey address.
func (k *Keypair) Address() string { return k.address }

// Sign returns the hex encoded ed25519 signature of message.
func (k *Keypair) Sign(message []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.priv, message))
}
