package catalog

import (
	"context"
	"deploybuild/internal/apperrors"
	"deploybuild/internal/build"
	"errors"
	"os"
	"path"
	"slices"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Layout of an all-the-things checkout.
const (
	DeployableDir = "deployable"
	envsSubdir    = "kubernetes/resources/envs"
	kubeSubdir    = "kubernetes"
)

// FSSource discovers deployables from a directory tree:
//
//	deployable/<dt>/kubernetes/resources/envs/<region>/<env>/<cluster>/
//
// Each cluster directory registers one target for dt.
type FSSource struct {
	fs billy.Filesystem
}

// NewFSSource creates a source over an arbitrary billy filesystem rooted at
// the all-the-things root.
func NewFSSource(fs billy.Filesystem) *FSSource {
	return &FSSource{fs: fs}
}

// NewOSSource creates a source over the local directory root.
func NewOSSource(root string) *FSSource {
	return NewFSSource(osfs.New(root))
}

// Deployables implements Source.
// Only directories with a kubernetes/ subtree are considered deployables.
func (s *FSSource) Deployables(ctx context.Context) ([]string, error) {
	entries, err := s.readDirs(DeployableDir)
	if err != nil {
		return nil, apperrors.Internal("catalog.deployables", err)
	}

	names := []string{}
	for _, name := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := s.isDir(path.Join(DeployableDir, name, kubeSubdir))
		if err != nil {
			return nil, apperrors.Internal("catalog.deployables", err)
		}
		if ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// ListTargets implements Source.
func (s *FSSource) ListTargets(ctx context.Context, dt string) ([]build.Target, error) {
	if err := s.requireDeployable(dt); err != nil {
		return nil, err
	}

	root := path.Join(DeployableDir, dt, envsSubdir)
	targets := []build.Target{}

	regions, err := s.readDirs(root)
	if err != nil {
		return nil, apperrors.Internal("catalog.listTargets", err)
	}
	for _, region := range regions {
		envs, err := s.readDirs(path.Join(root, region))
		if err != nil {
			return nil, apperrors.Internal("catalog.listTargets", err)
		}
		for _, env := range envs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			clusters, err := s.readDirs(path.Join(root, region, env))
			if err != nil {
				return nil, apperrors.Internal("catalog.listTargets", err)
			}
			for _, cluster := range clusters {
				t := build.Target{Region: region, Env: env, Cluster: cluster}
				if t.Validate() != nil {
					continue
				}
				targets = append(targets, t)
			}
		}
	}

	slices.SortFunc(targets, build.Target.Compare)
	return targets, nil
}

// HasTarget implements Source.
func (s *FSSource) HasTarget(ctx context.Context, dt string, target build.Target) (bool, error) {
	if err := s.requireDeployable(dt); err != nil {
		return false, err
	}
	if target.Validate() != nil {
		return false, nil
	}

	ok, err := s.isDir(path.Join(DeployableDir, dt, envsSubdir, target.Region, target.Env, target.Cluster))
	if err != nil {
		return false, apperrors.Internal("catalog.hasTarget", err)
	}
	return ok, nil
}

func (s *FSSource) requireDeployable(dt string) error {
	if !validName(dt) {
		return apperrors.NotFound("deployable", dt)
	}
	ok, err := s.isDir(path.Join(DeployableDir, dt, kubeSubdir))
	if err != nil {
		return apperrors.Internal("catalog.stat", err)
	}
	if !ok {
		return apperrors.NotFound("deployable", dt)
	}
	return nil
}

func (s *FSSource) isDir(p string) (bool, error) {
	info, err := s.fs.Stat(p)
	switch {
	case err == nil:
		return info.IsDir(), nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// readDirs returns the visible subdirectory names of p. A missing directory
// yields no names.
func (s *FSSource) readDirs(p string) ([]string, error) {
	infos, err := s.fs.ReadDir(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() && validName(info.Name()) {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

var _ Source = (*FSSource)(nil)
