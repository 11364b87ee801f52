package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

func (m *manager) AddSearchPath(dir string) {
	dir = filepath.Clean(dir)
	if slices.Contains(m.searchPaths, dir) {
		return
	}
	m.searchPaths = append(m.searchPaths, dir)
}

func (m *manager) PopSearchPath(dir string) {
	dir = filepath.Clean(dir)
	if i := slices.Index(m.searchPaths, dir); i >= 0 {
		m.searchPaths = slices.Delete(m.searchPaths, i, i+1)
	}
}

func (m *manager) SearchPaths() []string {
	return slices.Clone(m.searchPaths)
}

func (m *manager) LocateFile(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name: %w", ErrFileNotFound)
	}
	if filepath.IsAbs(name) {
		if fileExists(name) {
			return name, nil
		}
		return "", fmt.Errorf("%s: %w", name, ErrFileNotFound)
	}
	for _, dir := range m.searchPaths {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrFileNotFound)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
