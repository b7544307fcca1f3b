// Package crypto provides key management, order signing, and session
// authentication for the ProphetX exchange API.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// orderDigestPrefix domain-separates order digests from any other signed
// payload on the venue.
var orderDigestPrefix = []byte("\x19ProphetX Order:\n")

// authDigestPrefix domain-separates session-auth digests.
var authDigestPrefix = []byte("\x19ProphetX Auth:\n")

// OrderPayload holds the fields of a maker order covered by the submission
// signature. Big numbers travel as decimal strings to preserve precision
// across JSON boundaries.
type OrderPayload struct {
	MarketID string
	Outcome  string // "A" or "B"
	Stake    string // wire stake units
	Odds     string // wire odds units
	Maker    string // maker address
	Salt     string
}

// Signer produces secp256k1 signatures over venue payload digests. The
// derived address doubles as the agent's maker id on the exchange.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the maker address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// MakerID returns the lowercase hex form of the address, the identifier the
// exchange attaches to our resting orders.
func (s *Signer) MakerID() string {
	return strings.ToLower(s.address.Hex())
}

// SignOrder signs a maker order payload. The digest is
// keccak256(prefix || market_id || outcome || stake || odds || maker || salt)
// with each field length-prefixed so no two payloads collide.
func (s *Signer) SignOrder(p OrderPayload) (string, error) {
	if _, ok := new(big.Int).SetString(p.Stake, 10); !ok {
		return "", fmt.Errorf("crypto/signer: invalid stake %q", p.Stake)
	}
	if _, ok := new(big.Int).SetString(p.Odds, 10); !ok {
		return "", fmt.Errorf("crypto/signer: invalid odds %q", p.Odds)
	}
	digest := ethcrypto.Keccak256(packFields(
		orderDigestPrefix,
		p.MarketID, p.Outcome, p.Stake, p.Odds, p.Maker, p.Salt,
	))
	return s.signDigest(digest)
}

// SignAuthMessage signs the session login challenge used to obtain API
// credentials.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	digest := ethcrypto.Keccak256(packFields(
		authDigestPrefix,
		s.MakerID(),
		fmt.Sprintf("%d", timestamp),
		fmt.Sprintf("%d", nonce),
	))
	return s.signDigest(digest)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; the venue expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// packFields concatenates prefix and length-prefixed UTF-8 fields.
func packFields(prefix []byte, fields ...string) []byte {
	out := append([]byte{}, prefix...)
	for _, f := range fields {
		out = append(out, byte(len(f)>>8), byte(len(f)))
		out = append(out, f...)
	}
	return out
}
