package groupcrypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func genPEMPair(t *testing.T) (priv []byte, pub []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	privBytes := pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privBytes, pubBytes
}

func TestSignVerifyRoundTrip(t *testing.T) {
	privPEM, pubPEM := genPEMPair(t)
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}

	data := []byte(`{"at":1,"invites":{}}`)
	sig, err := Sign(priv, data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(pub, sig, data) {
		t.Fatal("verify failed on a valid signature")
	}
	if Verify(pub, sig, append(data, 'x')) {
		t.Fatal("verify succeeded on tampered data")
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	privPEM, pubPEM := genPEMPair(t)
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	pub, err := ParsePublicKey(pubPEM)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wrapped, err := Wrap(pub, key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	unwrapped, err := Unwrap(priv, wrapped)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(key, unwrapped) {
		t.Fatal("unwrapped key does not match original")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	plain := []byte("hello group")
	token, err := Seal(key, plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := Open(key, token)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("open = %q, want %q", got, plain)
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := Open(other, token); err != ErrOpenFailed {
		t.Fatalf("open with wrong key: err = %v, want ErrOpenFailed", err)
	}
}
