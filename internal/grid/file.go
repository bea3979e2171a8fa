package grid

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/mcgrid/internal/fsutil"
)

// SaveFile writes the text form of g to path, creating parent
// directories as needed.
func (g *Grid) SaveFile(fsys fsutil.FileSystem, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create grid file: %w", err)
	}
	if err := g.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("write grid file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close grid file %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a grid written by SaveFile. dim is checked as in Load.
func LoadFile(fsys fsutil.FileSystem, path string, src Source, dim int) (*Grid, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grid file: %w", err)
	}
	defer f.Close()
	g, err := Load(f, src, dim)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}
