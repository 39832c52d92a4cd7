package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// readerMemoryKey is the key the reader id is stored under.
const readerMemoryKey = "stripe_terminal_reader_id"

// FileReaderMemory keeps the last connected reader id in a small JSON file.
type FileReaderMemory struct {
	mu   sync.Mutex
	path string
}

// NewFileReaderMemory returns a memory backed by path. The file is created on first Save.
func NewFileReaderMemory(path string) *FileReaderMemory {
	return &FileReaderMemory{path: path}
}

// Load returns the remembered reader id, or "" when none is stored.
func (m *FileReaderMemory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := m.read()
	if err != nil {
		return "", err
	}
	return values[readerMemoryKey], nil
}

// Save remembers readerID, keeping any other keys in the file.
func (m *FileReaderMemory) Save(readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := m.read()
	if err != nil {
		return err
	}
	values[readerMemoryKey] = readerID
	return m.write(values)
}

// Clear forgets the reader.
func (m *FileReaderMemory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := m.read()
	if err != nil {
		return err
	}
	if _, ok := values[readerMemoryKey]; !ok {
		return nil
	}
	delete(values, readerMemoryKey)
	return m.write(values)
}

func (m *FileReaderMemory) read() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reader memory: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse reader memory %s: %w", m.path, err)
	}
	return values, nil
}

func (m *FileReaderMemory) write(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create reader memory dir: %w", err)
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write reader memory: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// MemoryReaderMemory keeps the reader id in process memory only.
type MemoryReaderMemory struct {
	mu sync.Mutex
	id string
}

func (m *MemoryReaderMemory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *MemoryReaderMemory) Save(readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = readerID
	return nil
}

func (m *MemoryReaderMemory) Clear() error {
	return m.Save("")
}
