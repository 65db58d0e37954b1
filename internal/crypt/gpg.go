package crypt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/cloudsync/cloudsync/internal/model"
)

// GPG encrypts through a gpg subprocess.
// The passphrase is handed over on file descriptor 3, never on the command line.
type GPG struct {
	binary     string
	passphrase string
	homeDir    string
}

// NewGPG locates the gpg binary and returns a cipher using it.
func NewGPG(binary, passphrase, homeDir string) (*GPG, error) {
	if binary == "" {
		binary = "gpg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, &model.ConfigError{Msg: fmt.Sprintf("%s not found in PATH", binary), Err: err}
	}
	return &GPG{
		binary:     path,
		passphrase: passphrase,
		homeDir:    homeDir,
	}, nil
}

// Encrypt encrypts plaintext symmetrically with AES256.
func (g *GPG) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return g.run(ctx, "encrypt", plaintext,
		"--symmetric", "--cipher-algo", "AES256", "--compress-algo", "ZIP", "--output", "-")
}

// Decrypt decrypts a symmetric gpg message.
func (g *GPG) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return g.run(ctx, "decrypt", ciphertext, "--decrypt", "--output", "-")
}

// gpgCmd creates a gpg command with the common non-interactive flags.
func (g *GPG) gpgCmd(ctx context.Context, args ...string) *exec.Cmd {
	base := []string{"--batch", "--yes", "--quiet", "--no-tty",
		"--pinentry-mode", "loopback", "--passphrase-fd", "3"}
	if g.homeDir != "" {
		base = append(base, "--homedir", g.homeDir)
	}
	return exec.CommandContext(ctx, g.binary, append(base, args...)...)
}

// run spawns gpg, feeds input on stdin and the passphrase on fd 3,
// and waits for the process on every path after a successful start.
func (g *GPG) run(ctx context.Context, op string, input []byte, args ...string) ([]byte, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &model.CryptoError{Op: op, Err: fmt.Errorf("failed to create passphrase pipe: %w", err)}
	}
	defer pr.Close()

	var stdout, stderr bytes.Buffer
	cmd := g.gpgCmd(ctx, args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.ExtraFiles = []*os.File{pr}

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, &model.CryptoError{Op: op, Err: fmt.Errorf("failed to start gpg: %w", err)}
	}
	pr.Close()

	_, werr := io.WriteString(pw, g.passphrase+"\n")
	pw.Close()

	if err := cmd.Wait(); err != nil {
		return nil, &model.CryptoError{Op: op, Stderr: stderr.String(), Err: err}
	}
	if werr != nil {
		return nil, &model.CryptoError{Op: op, Stderr: stderr.String(), Err: fmt.Errorf("failed to pass passphrase: %w", werr)}
	}

	return stdout.Bytes(), nil
}
