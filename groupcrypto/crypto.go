// Package groupcrypto implements the asymmetric and symmetric primitives
// behind the group overlay: RSA-PSS/SHA-256 signatures and RSA-OAEP/
// SHA-256 key wrapping over PEM-encoded keys (bit-exact wire formats per
// spec), and an authenticated symmetric envelope (no version field) for group
// data, equivalent in shape to the reference's Fernet token but built on
// golang.org/x/crypto/nacl/secretbox.
package groupcrypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// ParsePrivateKey loads a PEM-encoded PKCS#1 or PKCS#8 RSA private key,
// the format a client's key parameter is supplied in.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("groupcrypto: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "groupcrypto: parse private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("groupcrypto: PEM key is not RSA")
	}
	return rsaKey, nil
}

// ParsePublicKey loads a PEM-encoded PKIX RSA public key, the format a
// peer_public_key parameter to Join is supplied in.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("groupcrypto: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if rsaKey, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
			return rsaKey, nil
		}
		return nil, errors.Wrap(err, "groupcrypto: parse public key")
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("groupcrypto: PEM key is not RSA")
	}
	return rsaKey, nil
}

// Sign produces an RSA-PSS/SHA-256 signature with maximum salt length,
// matching the reference's padding.PSS(salt_length=MAX_LENGTH).
func Sign(key *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, errors.Wrap(err, "groupcrypto: sign")
	}
	return sig, nil
}

// Verify checks an RSA-PSS/SHA-256 signature produced by Sign.
func Verify(key *rsa.PublicKey, sig, data []byte) bool {
	digest := sha256.Sum256(data)
	err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	return err == nil
}

// Wrap encrypts data (typically a raw group key) under an RSA-OAEP/
// SHA-256 public key, the member's invite envelope.
func Wrap(key *rsa.PublicKey, data []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "groupcrypto: wrap")
	}
	return out, nil
}

// Unwrap reverses Wrap using the holder's private key.
func Unwrap(key *rsa.PrivateKey, data []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "groupcrypto: unwrap")
	}
	return out, nil
}

// KeySize is the raw symmetric group key length used to seed Seal/Open.
const KeySize = 32

// GenerateKey produces a fresh random raw group key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "groupcrypto: generate key")
	}
	return key, nil
}

// ErrOpenFailed is returned by Open when authentication fails — wrong
// key, truncated token, or tampering. Callers should treat this exactly
// like the reference's InvalidToken: retry, never crash.
var ErrOpenFailed = errors.New("groupcrypto: open failed")

// Seal authenticates and encrypts plaintext under the 32-byte raw key,
// producing a self-contained token (random nonce prefix + sealed box) —
// the Go-native equivalent of the reference's Fernet token.
func Seal(rawKey, plaintext []byte) ([]byte, error) {
	if len(rawKey) != KeySize {
		return nil, errors.New("groupcrypto: bad key size")
	}
	var key [KeySize]byte
	copy(key[:], rawKey)
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "groupcrypto: seal nonce")
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &key)
	return out, nil
}

// Open reverses Seal, verifying the authentication tag before returning
// the plaintext.
func Open(rawKey, token []byte) ([]byte, error) {
	if len(rawKey) != KeySize {
		return nil, errors.New("groupcrypto: bad key size")
	}
	if len(token) < 24 {
		return nil, ErrOpenFailed
	}
	var key [KeySize]byte
	copy(key[:], rawKey)
	var nonce [24]byte
	copy(nonce[:], token[:24])
	out, ok := secretbox.Open(nil, token[24:], &nonce, &key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}
