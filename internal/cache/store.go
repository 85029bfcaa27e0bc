package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// storeVersion is bumped whenever Entry changes incompatibly. Files with a
// different version are ignored on load.
const storeVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

type persistedState struct {
	Version int               `cbor:"1,keyasint"`
	Entries map[string]*Entry `cbor:"2,keyasint"`
}

// Store persists cache entries to a single zstd-compressed CBOR file.
type Store struct {
	path string
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted entries. A missing file yields an empty map and
// no error; an unreadable, corrupt or outdated file yields an error and the
// caller should start cold.
func (s *Store) Load() (map[string]*Entry, error) {
	compressed, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*Entry{}, nil
		}
		return nil, fmt.Errorf("cache.Store.Load: read %q: %w", s.path, err)
	}

	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("cache.Store.Load: decompress %q: %w", s.path, err)
	}

	var state persistedState
	if err := decMode.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("cache.Store.Load: decode %q: %w", s.path, err)
	}
	if state.Version != storeVersion {
		return nil, fmt.Errorf("cache.Store.Load: %q has version %d, want %d", s.path, state.Version, storeVersion)
	}

	entries := make(map[string]*Entry, len(state.Entries))
	for key, entry := range state.Entries {
		if entry != nil {
			entries[key] = entry
		}
	}

	log.Debug().
		Int("entries", len(entries)).
		Str("file", s.path).
		Msg("Loaded response cache")

	return entries, nil
}

// Save writes entries atomically: a temp file in the same directory is
// written and then renamed over the target.
func (s *Store) Save(entries map[string]*Entry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache.Store.Save: create directory %q: %w", dir, err)
	}

	data, err := encMode.Marshal(persistedState{Version: storeVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("cache.Store.Save: encode: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(data, nil)

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cache.Store.Save: create temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache.Store.Save: write %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache.Store.Save: close %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		renameErr := fmt.Errorf("cache.Store.Save: rename %q to %q: %w", tmpPath, s.path, err)
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			return errors.Join(renameErr, fmt.Errorf("cache.Store.Save: remove temp file %q: %w", tmpPath, removeErr))
		}
		return renameErr
	}

	log.Debug().
		Int("entries", len(entries)).
		Int("bytes", len(compressed)).
		Str("file", s.path).
		Msg("Saved response cache")

	return nil
}
