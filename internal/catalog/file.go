package catalog

import (
	"context"
	"deploybuild/internal/apperrors"
	"deploybuild/internal/build"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// fileDoc is the on-disk shape of a TOML catalog:
//
//	[[deployable]]
//	name = "svc-a"
//
//	  [[deployable.target]]
//	  region = "eu-north-1"
//	  env_name = "prod"
//	  cluster_name = "sandbox"
type fileDoc struct {
	Deployables []fileDeployable `toml:"deployable"`
}

type fileDeployable struct {
	Name    string       `toml:"name"`
	Targets []fileTarget `toml:"target"`
}

type fileTarget struct {
	Region  string `toml:"region"`
	Env     string `toml:"env_name"`
	Cluster string `toml:"cluster_name"`
}

// FileSource is an immutable catalog loaded from a TOML document.
type FileSource struct {
	targets map[string][]build.Target
}

// LoadFile parses a TOML catalog from path.
func LoadFile(path string) (*FileSource, error) {
	var doc fileDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("catalog parse failed (%s): %w", path, err)
	}
	return newFileSource(doc)
}

// ParseFile parses a TOML catalog from its text.
func ParseFile(data string) (*FileSource, error) {
	var doc fileDoc
	if _, err := toml.Decode(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog parse failed: %w", err)
	}
	return newFileSource(doc)
}

func newFileSource(doc fileDoc) (*FileSource, error) {
	src := &FileSource{targets: make(map[string][]build.Target, len(doc.Deployables))}
	for i, d := range doc.Deployables {
		if !validName(d.Name) {
			return nil, fmt.Errorf("deployable[%d]: invalid name %q", i, d.Name)
		}
		if _, dup := src.targets[d.Name]; dup {
			return nil, fmt.Errorf("deployable[%d]: duplicate name %q", i, d.Name)
		}

		targets := make([]build.Target, 0, len(d.Targets))
		for j, ft := range d.Targets {
			t, err := build.NewTarget(ft.Region, ft.Env, ft.Cluster)
			if err != nil {
				return nil, fmt.Errorf("deployable %s target[%d]: %w", d.Name, j, err)
			}
			targets = append(targets, t)
		}
		slices.SortFunc(targets, build.Target.Compare)
		src.targets[d.Name] = slices.Compact(targets)
	}
	return src, nil
}

// Deployables implements Source.
func (s *FileSource) Deployables(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// ListTargets implements Source.
func (s *FileSource) ListTargets(ctx context.Context, dt string) ([]build.Target, error) {
	targets, ok := s.targets[dt]
	if !ok {
		return nil, apperrors.NotFound("deployable", dt)
	}
	return slices.Clone(targets), nil
}

// HasTarget implements Source.
func (s *FileSource) HasTarget(ctx context.Context, dt string, target build.Target) (bool, error) {
	targets, ok := s.targets[dt]
	if !ok {
		return false, apperrors.NotFound("deployable", dt)
	}
	return slices.Contains(targets, target), nil
}

var _ Source = (*FileSource)(nil)
