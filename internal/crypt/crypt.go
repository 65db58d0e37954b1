// Package crypt provides the symmetric encryption gateway used for remote
// names, packed metadata and payload bytes.
//
// INVARIANTS:
// - Every name and byte sent to a remote store passes through a Cipher
// - Text results are base64 with '/' replaced by '_' (safe as object names)
// - Cipher failures are fatal CryptoErrors, never retried
package crypt

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Cipher encrypts and decrypts raw payloads with a passphrase it holds.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Backend names accepted by NewCipher.
const (
	BackendGPG     = "gpg"
	BackendOpenPGP = "openpgp"
)

// NewCipher builds the configured cipher backend.
func NewCipher(backend, binary, passphrase, homeDir string) (Cipher, error) {
	if passphrase == "" {
		return nil, &model.ConfigError{Msg: "passphrase is required"}
	}
	switch backend {
	case BackendGPG, "":
		return NewGPG(binary, passphrase, homeDir)
	case BackendOpenPGP:
		return NewOpenPGP(passphrase), nil
	}
	return nil, &model.ConfigError{Msg: fmt.Sprintf("unknown cipher backend %q", backend)}
}

// Gateway wraps a Cipher with the text and metadata encodings used on the remote side.
type Gateway struct {
	cipher Cipher
}

// NewGateway creates a gateway around c.
func NewGateway(c Cipher) *Gateway {
	return &Gateway{cipher: c}
}

// Encrypt encrypts raw payload bytes.
func (g *Gateway) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	return g.cipher.Encrypt(ctx, data)
}

// Decrypt decrypts raw payload bytes.
func (g *Gateway) Decrypt(ctx context.Context, data []byte) ([]byte, error) {
	return g.cipher.Decrypt(ctx, data)
}

// EncryptText encrypts s and returns a name-safe text encoding.
func (g *Gateway) EncryptText(ctx context.Context, s string) (string, error) {
	enc, err := g.cipher.Encrypt(ctx, []byte(s))
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString(enc), "/", "_"), nil
}

// DecryptText reverses EncryptText.
func (g *Gateway) DecryptText(ctx context.Context, s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(s, "_", "/"))
	if err != nil {
		return "", &model.CryptoError{Op: "decode text", Err: err}
	}
	dec, err := g.cipher.Decrypt(ctx, raw)
	if err != nil {
		return "", err
	}
	return string(dec), nil
}

// PackMetadata encrypts the metadata tuple of item.
func (g *Gateway) PackMetadata(ctx context.Context, item *model.Item) (string, error) {
	return g.EncryptText(ctx, FormatMetadata(item))
}

// UnpackMetadata decrypts s and applies the tuple to item.
func (g *Gateway) UnpackMetadata(ctx context.Context, s string, item *model.Item) error {
	plain, err := g.DecryptText(ctx, s)
	if err != nil {
		return err
	}
	return ParseMetadata(plain, item)
}

// FormatMetadata joins type:size:mtime:ctime:gid:uid:perms.
func FormatMetadata(item *model.Item) string {
	fields := []int64{
		int64(item.Type),
		item.Size,
		item.ModifyTime,
		item.CreateTime,
		item.GID,
		item.UID,
		item.Permissions,
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strconv.FormatInt(f, 10)
	}
	return strings.Join(parts, ":")
}

// ParseMetadata parses a FormatMetadata tuple into item.
func ParseMetadata(s string, item *model.Item) error {
	parts := strings.Split(s, ":")
	if len(parts) != 7 {
		return fmt.Errorf("invalid metadata: expected 7 fields, got %d", len(parts))
	}
	typ, err := model.ParseItemType(parts[0])
	if err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	var nums [6]int64
	for i, p := range parts[1:] {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid metadata field %d: %w", i+1, err)
		}
		nums[i] = n
	}
	item.Type = typ
	item.Size = nums[0]
	item.ModifyTime = nums[1]
	item.CreateTime = nums[2]
	item.GID = nums[3]
	item.UID = nums[4]
	item.Permissions = nums[5]
	return nil
}
