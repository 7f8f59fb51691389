package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitchat-mesh/bitchat/noiseproto"
)

// fileStorage is a directory-backed identity.Storage: one file per key,
// written atomically via a temp-file-then-rename, the same durability
// idiom the teacher's UAPI socket file uses for its own on-disk state
// (uapi_linux.go's socket directory convention) generalized from a
// single socket file to a small per-key key/value store.
type fileStorage struct {
	dir string
}

func newFileStorage(dir string) (*fileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &fileStorage{dir: dir}, nil
}

func (s *fileStorage) path(key string) string {
	return filepath.Join(s.dir, key+".bin")
}

func (s *fileStorage) Load(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *fileStorage) Save(key string, value []byte) error {
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(key))
}

func (s *fileStorage) Clear() error {
	return os.RemoveAll(s.dir)
}

// loadOrCreateStaticKey persists the node's long-term Noise static
// keypair across restarts, the same "load existing or generate fresh"
// pattern as the teacher's UAPI "set private_key" path but driven by a
// local file instead of an IPC command.
func loadOrCreateStaticKey(dir string) (priv, pub [32]byte, err error) {
	path := filepath.Join(dir, "static_key.bin")
	data, rerr := os.ReadFile(path)
	if rerr == nil && len(data) == 64 {
		copy(priv[:], data[:32])
		copy(pub[:], data[32:])
		return priv, pub, nil
	}

	kp, gerr := noiseproto.GenerateKeypair()
	if gerr != nil {
		return priv, pub, gerr
	}
	blob := append(append([]byte{}, kp.Private[:]...), kp.Public[:]...)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return priv, pub, err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return priv, pub, err
	}
	return kp.Private, kp.Public, nil
}
