package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File names inside the catalog directory.
const (
	automationsFile = "catalog.yml"
	proceduresFile  = "procedures.yml"
	targetsFile     = "confirm_targets.yml"
)

// FSRepo reads policy specs from YAML files in a directory. A missing file
// is treated as an empty set so a fresh deployment starts with no catalog
// instead of failing.
type FSRepo struct {
	dir string
}

// NewFS creates a file-system repository rooted at dir.
func NewFS(dir string) *FSRepo {
	return &FSRepo{dir: dir}
}

// Compile-time check that FSRepo implements Repository.
var _ Repository = (*FSRepo)(nil)

// LoadAutomations reads catalog.yml.
func (r *FSRepo) LoadAutomations(_ context.Context) ([]AutomationSpec, error) {
	var specs []AutomationSpec
	if err := r.readYAML(automationsFile, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// LoadProcedures reads procedures.yml.
func (r *FSRepo) LoadProcedures(_ context.Context) ([]ProcedureSpec, error) {
	var specs []ProcedureSpec
	if err := r.readYAML(proceduresFile, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// LoadTargets reads confirm_targets.yml.
func (r *FSRepo) LoadTargets(_ context.Context) (map[string]TargetSpec, error) {
	specs := make(map[string]TargetSpec)
	if err := r.readYAML(targetsFile, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func (r *FSRepo) readYAML(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
