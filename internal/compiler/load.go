package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Errors LoadDir wraps for an unusable definitions directory.
var (
	ErrNotDirectory = errors.New("not a directory")
	ErrNoCUEFiles   = errors.New("no CUE files found")
)

// LoadDir builds the CUE package in dir and compiles it. It also returns the
// number of .cue files found.
func LoadDir(dir string) (*Definitions, int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("definitions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, 0, fmt.Errorf("%w in %s", ErrNoCUEFiles, dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, len(files), fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, len(files), formatCUEError(inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, len(files), formatCUEError(err)
	}
	defs, err := Compile(v)
	return defs, len(files), err
}

// FindCUEFiles returns the .cue files directly inside dir. Subdirectories
// are separate CUE packages and are not loaded.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
