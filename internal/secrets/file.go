package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/inletworks/inlet/internal/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	keyLength        = 32
	saltLength       = 16
)

// fileEnvelope is the on-disk shape of an encrypted secrets file.
type fileEnvelope struct {
	Salt  string `json:"salt"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// File resolves references from a JSON secrets file. With a passphrase the
// file is an AES-GCM envelope (key derived via PBKDF2); without one it is a
// plain JSON object mapping references to values.
type File struct {
	path       string
	passphrase string

	once    sync.Once
	loadErr error
	values  map[string]string
}

// NewFile builds a file-backed resolver. The file is read lazily on first
// Resolve so construction never fails.
func NewFile(path, passphrase string) *File {
	return &File{path: path, passphrase: passphrase}
}

func (f *File) Resolve(_ context.Context, ref string) (string, error) {
	f.once.Do(f.load)
	if f.loadErr != nil {
		return "", errors.New(errors.CategoryAuthenticationFailure, "resolve_secret", f.loadErr)
	}
	if v, ok := f.values[ref]; ok {
		return v, nil
	}
	return "", errors.New(errors.CategoryAuthenticationFailure, "resolve_secret",
		fmt.Errorf("secret %q not found in %s", ref, f.path))
}

func (f *File) load() {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		f.loadErr = fmt.Errorf("read secrets file: %w", err)
		return
	}

	if f.passphrase == "" {
		if err := json.Unmarshal(raw, &f.values); err != nil {
			f.loadErr = fmt.Errorf("parse secrets file: %w", err)
		}
		return
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		f.loadErr = fmt.Errorf("parse secrets envelope: %w", err)
		return
	}
	plain, err := decrypt(env, f.passphrase)
	if err != nil {
		f.loadErr = err
		return
	}
	if err := json.Unmarshal(plain, &f.values); err != nil {
		f.loadErr = fmt.Errorf("parse decrypted secrets: %w", err)
	}
}

// WriteFile encrypts values with the passphrase and writes them to path with
// owner-only permissions. Used by the CLI to seed a secrets file.
func WriteFile(path, passphrase string, values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	env := fileEnvelope{
		Salt:  base64.StdEncoding.EncodeToString(salt),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return os.WriteFile(path, raw, 0600)
}

func decrypt(env fileEnvelope, passphrase string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}
	return plain, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLength, sha256.New)
}
