package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"tdprio/internal/catalog"
	"tdprio/internal/config"
)

// Resolve loads the workspace config, falling back to defaults when no
// tdprio.yml exists, and builds a catalog holding the built-in datasets plus
// every file listed under datasets.files. Relative dataset paths resolve
// against the workspace. Both the config and the dataset files are read
// from fs.
func Resolve(workspace string, fs afero.Fs) (*config.Config, *catalog.Catalog, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cfg, err := config.LoadOptional(fs, workspace)
	if err != nil {
		return nil, nil, err
	}
	cat, err := BuildCatalog(workspace, fs, cfg)
	if err != nil {
		return nil, nil, err
	}
	if _, err := cat.Get(cfg.Experiment.Dataset); err != nil {
		return nil, nil, fmt.Errorf("config.experiment.dataset: %w", err)
	}
	return cfg, cat, nil
}

// BuildCatalog registers cfg's dataset files on top of the built-ins.
func BuildCatalog(workspace string, fs afero.Fs, cfg *config.Config) (*catalog.Catalog, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cat := catalog.New()
	if cfg == nil {
		return cat, nil
	}
	for _, f := range cfg.Datasets.Files {
		path := f
		if !filepath.IsAbs(path) && workspace != "" {
			path = filepath.Join(workspace, path)
		}
		ds, err := catalog.LoadFile(fs, path)
		if err != nil {
			return nil, err
		}
		if err := cat.Register(ds); err != nil {
			return nil, fmt.Errorf("dataset file %s: %w", f, err)
		}
	}
	return cat, nil
}
