package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	"commitai/cli/internal/erruser"
)

// ErrReadOnly is returned by stores that cannot persist values.
var ErrReadOnly = errors.New("credential store is read-only")

// Store is a key/value secret store.
type Store interface {
	// Get returns the value for key; found is false when key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set replaces the value for key.
	Set(ctx context.Context, key, value string) error
}

// FileStore keeps secrets in a dotenv-format file readable only by the owner.
// Writes replace the file atomically (temp file then rename).
type FileStore struct {
	Path string

	mu sync.Mutex
}

// NewFileStore returns a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DefaultFilePath returns <UserConfigDir>/commitai/credentials.
func DefaultFilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", erruser.New("Could not determine config directory.", err)
	}
	return filepath.Join(dir, "commitai", "credentials"), nil
}

// Get reads key from the file. A missing file means no value.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set writes key=value, keeping any other keys already in the file.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	m[key] = value
	data, err := godotenv.Marshal(m)
	if err != nil {
		return erruser.New("Could not save API key.", err)
	}
	return writeAtomic(s.Path, []byte(data+"\n"))
}

func (s *FileStore) read() (map[string]string, error) {
	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, erruser.New("Could not read credential file.", err)
	}
	m, err := godotenv.Read(s.Path)
	if err != nil {
		return nil, erruser.New("Credential file is invalid or corrupted.", err)
	}
	return m, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return erruser.New("Could not create credential directory.", err)
	}
	f, err := os.CreateTemp(dir, "credentials.*.tmp")
	if err != nil {
		return erruser.New("Could not save API key.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return erruser.New("Could not save API key.", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return erruser.New("Could not save API key.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not save API key.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not save API key.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not save API key.", err)
	}
	return nil
}

// EnvStore reads secrets from environment variables. It cannot persist.
type EnvStore struct {
	// Vars maps store keys to environment variable names.
	Vars map[string]string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// NewEnvStore maps KeyName to OPENAI_API_KEY.
func NewEnvStore() *EnvStore {
	return &EnvStore{Vars: map[string]string{KeyName: "OPENAI_API_KEY"}}
}

// Get looks up the environment variable mapped to key.
func (s *EnvStore) Get(ctx context.Context, key string) (string, bool, error) {
	name, ok := s.Vars[key]
	if !ok {
		return "", false, nil
	}
	lookup := s.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(name)
	return v, ok && v != "", nil
}

// Set always fails with ErrReadOnly.
func (s *EnvStore) Set(ctx context.Context, key, value string) error {
	return fmt.Errorf("set %s: %w", key, ErrReadOnly)
}

// Chain queries stores in order; the first one holding a non-empty value wins.
// Set writes to the first store that accepts it.
type Chain []Store

// Get returns the first non-empty value found.
func (c Chain) Get(ctx context.Context, key string) (string, bool, error) {
	for _, s := range c {
		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok && v != "" {
			return v, true, nil
		}
	}
	return "", false, nil
}

// Set writes to the first writable store.
func (c Chain) Set(ctx context.Context, key, value string) error {
	for _, s := range c {
		err := s.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return fmt.Errorf("set %s: %w", key, ErrReadOnly)
}

// MemoryStore is an in-process Store, mostly for tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	reads  int
}

// NewMemoryStore returns a MemoryStore seeded with values (may be nil).
func NewMemoryStore(values map[string]string) *MemoryStore {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &MemoryStore{values: m}
}

// Get returns the value for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	v, ok := s.values[key]
	return v, ok, nil
}

// Set replaces the value for key.
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Reads returns how many times Get was called.
func (s *MemoryStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
