package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// FileStore persists the session identity (display name and secret key) to an
// encrypted file, sealed under a machine passphrase. It stands in for the
// browser's sessionStorage: written on setup, read at startup, deleted on
// logout.
type FileStore struct {
	path string
	pass string
}

const (
	storeVersion  = 1
	storeSaltSize = 16
	storeNonce    = chacha20poly1305.NonceSizeX

	storeArgonTime    = 1
	storeArgonMemory  = 64 * 1024
	storeArgonThreads = 4
	storeArgonKeyLen  = 32
)

var (
	ErrNoSavedSession = errors.New("no saved session")
	ErrStoreCorrupt   = errors.New("corrupted session file")
	ErrStorePass      = errors.New("invalid store passphrase")
)

type storeFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type storePayload struct {
	CurrentUser string `json:"current_user"`
	SecretKey   string `json:"secret_key"`
}

// NewFileStore builds a store backed by the given path, sealed with pass.
func NewFileStore(path, pass string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session store path is required")
	}
	if pass == "" {
		return nil, errors.New("session store passphrase is required")
	}
	return &FileStore{path: path, pass: pass}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Save seals the session identity to disk, replacing any previous file.
func (f *FileStore) Save(s *Session) error {
	payload, err := json.Marshal(storePayload{
		CurrentUser: s.User(),
		SecretKey:   s.SecretKey(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	defer zeroBytes(payload)

	salt := make([]byte, storeSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, storeNonce)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	key := f.deriveKey(salt)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	sealed := aead.Seal(nil, nonce, payload, nil)

	serialized, err := json.MarshalIndent(storeFile{
		Version:    storeVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("create session directory: %w", err)
	}
	return os.WriteFile(f.path, serialized, 0o600)
}

// Load reads the sealed identity into the session. Missing files return
// ErrNoSavedSession.
func (f *FileStore) Load(s *Session) error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoSavedSession
		}
		return fmt.Errorf("read session file: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode session file: %w", ErrStoreCorrupt)
	}
	if file.Version != storeVersion {
		return fmt.Errorf("unsupported session file version %d", file.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return fmt.Errorf("decode salt: %w", ErrStoreCorrupt)
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return fmt.Errorf("decode nonce: %w", ErrStoreCorrupt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return fmt.Errorf("decode ciphertext: %w", ErrStoreCorrupt)
	}
	if len(nonce) != storeNonce {
		return fmt.Errorf("invalid nonce size: %w", ErrStoreCorrupt)
	}

	key := f.deriveKey(salt)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("open session file: %w", ErrStorePass)
	}
	defer zeroBytes(plaintext)

	var payload storePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return fmt.Errorf("unmarshal session payload: %w", ErrStoreCorrupt)
	}

	s.SetUser(payload.CurrentUser)
	s.SetSecretKey(payload.SecretKey)
	return nil
}

// Clear deletes the persisted session. Missing files are not an error.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (f *FileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey([]byte(f.pass), salt, storeArgonTime, storeArgonMemory, storeArgonThreads, storeArgonKeyLen)
}

func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
