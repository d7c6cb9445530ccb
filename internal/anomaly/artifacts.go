package anomaly

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrArtifactNotFound marks an artifact that was never saved.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore persists the opaque model and scaler blobs by name.
type ArtifactStore interface {
	Load(name string) ([]byte, error)
	Save(name string, data []byte) error
}

// FileArtifactStore keeps one file per artifact under Dir.
type FileArtifactStore struct {
	Dir   string
	Files map[string]string
}

func NewFileArtifactStore(dir, modelFile, scalerFile string) *FileArtifactStore {
	if modelFile == "" {
		modelFile = "iforest.gob"
	}
	if scalerFile == "" {
		scalerFile = "scaler.gob"
	}
	return &FileArtifactStore{
		Dir: dir,
		Files: map[string]string{
			ArtifactModel:  modelFile,
			ArtifactScaler: scalerFile,
		},
	}
}

func (s *FileArtifactStore) path(name string) (string, error) {
	file, ok := s.Files[name]
	if !ok {
		return "", fmt.Errorf("unknown artifact %q", name)
	}
	return filepath.Join(s.Dir, file), nil
}

func (s *FileArtifactStore) Load(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrArtifactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return data, nil
}

// Save writes through a temporary file so readers never see a partial blob.
func (s *FileArtifactStore) Save(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close artifact %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename artifact %s: %w", path, err)
	}
	return nil
}

// MemoryArtifactStore keeps artifacts in process memory.
type MemoryArtifactStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{blobs: make(map[string][]byte)}
}

func (s *MemoryArtifactStore) Load(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrArtifactNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryArtifactStore) Save(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}
