package crypt

import (
	"bytes"
	"context"
	"errors"
	"io"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/cloudsync/cloudsync/internal/model"
)

// OpenPGP is an in-process cipher producing gpg-compatible symmetric messages
// (AES256, ZIP compression).
type OpenPGP struct {
	passphrase []byte
	config     *packet.Config
}

// NewOpenPGP returns an in-process cipher for passphrase.
func NewOpenPGP(passphrase string) *OpenPGP {
	return &OpenPGP{
		passphrase: []byte(passphrase),
		config: &packet.Config{
			DefaultCipher:          packet.CipherAES256,
			DefaultCompressionAlgo: packet.CompressionZIP,
		},
	}
}

// Encrypt encrypts plaintext symmetrically.
func (o *OpenPGP) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &model.CryptoError{Op: "encrypt", Err: err}
	}

	var buf bytes.Buffer
	w, err := openpgp.SymmetricallyEncrypt(&buf, o.passphrase, nil, o.config)
	if err != nil {
		return nil, &model.CryptoError{Op: "encrypt", Err: err}
	}
	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, &model.CryptoError{Op: "encrypt", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &model.CryptoError{Op: "encrypt", Err: err}
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts a symmetric message. A wrong passphrase fails after one attempt.
func (o *OpenPGP) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &model.CryptoError{Op: "decrypt", Err: err}
	}

	tried := false
	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if tried {
			return nil, errors.New("invalid passphrase")
		}
		tried = true
		return o.passphrase, nil
	}

	md, err := openpgp.ReadMessage(bytes.NewReader(ciphertext), nil, prompt, o.config)
	if err != nil {
		return nil, &model.CryptoError{Op: "decrypt", Err: err}
	}
	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, &model.CryptoError{Op: "decrypt", Err: err}
	}
	return plain, nil
}
