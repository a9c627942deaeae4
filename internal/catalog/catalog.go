// Package catalog holds the named project snapshots that seed a
// prioritization search.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"tdprio/internal/domain"
	"tdprio/internal/prioritizer"
)

var ErrUnknownDataset = errors.New("unknown dataset")

const DefaultName = "default"

// Dataset is a fixed set of items plus the project snapshot they apply to.
type Dataset struct {
	Name    string                `json:"name"`
	Items   []domain.TechDebtItem `json:"items"`
	Metrics domain.ProjectMetrics `json:"metrics"`
}

// Root returns a fresh root node for the dataset.
func (d Dataset) Root() (prioritizer.Node, error) {
	n, err := prioritizer.New(d.Items, d.Metrics)
	if err != nil {
		return prioritizer.Node{}, fmt.Errorf("dataset %s: %w", d.Name, err)
	}
	return n, nil
}

// Catalog maps dataset names to datasets. It is not safe for concurrent
// Register calls; lookups on a populated catalog are.
type Catalog struct {
	datasets map[string]Dataset
}

// New returns a catalog holding the built-in datasets.
func New() *Catalog {
	c := &Catalog{datasets: map[string]Dataset{}}
	for _, d := range builtin() {
		c.datasets[d.Name] = d
	}
	return c
}

// Register adds or replaces a dataset.
func (c *Catalog) Register(d Dataset) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return errors.New("dataset name is required")
	}
	if _, err := d.Root(); err != nil {
		return err
	}
	c.datasets[d.Name] = d
	return nil
}

// Names lists dataset names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named dataset. An empty name selects the default one.
func (c *Catalog) Get(name string) (Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	d, ok := c.datasets[name]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	d.Items = slices.Clone(d.Items)
	return d, nil
}

// Root builds the root node of the named dataset.
func (c *Catalog) Root(name string) (prioritizer.Node, error) {
	d, err := c.Get(name)
	if err != nil {
		return prioritizer.Node{}, err
	}
	return d.Root()
}

// datasetFile is the on-disk shape: tuples in the canonical field order.
type datasetFile struct {
	Name    string    `yaml:"name"`
	Items   [][]any   `yaml:"items"`
	Metrics []float64 `yaml:"metrics"`
}

// FromYAML decodes a dataset written as item and metrics tuples.
func FromYAML(data []byte) (Dataset, error) {
	var f datasetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Dataset{}, fmt.Errorf("invalid dataset yaml: %w", err)
	}
	if strings.TrimSpace(f.Name) == "" {
		return Dataset{}, errors.New("dataset.name is required")
	}
	if len(f.Items) == 0 {
		return Dataset{}, fmt.Errorf("dataset %s has no items", f.Name)
	}
	d := Dataset{Name: strings.TrimSpace(f.Name)}
	for i, row := range f.Items {
		td, err := domain.ItemFromRow(row)
		if err != nil {
			return Dataset{}, fmt.Errorf("dataset %s item %d: %w", f.Name, i, err)
		}
		d.Items = append(d.Items, td)
	}
	m, err := domain.MetricsFromValues(f.Metrics)
	if err != nil {
		return Dataset{}, fmt.Errorf("dataset %s: %w", f.Name, err)
	}
	d.Metrics = m
	if _, err := d.Root(); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

// LoadFile reads a dataset file from fs.
func LoadFile(fs afero.Fs, path string) (Dataset, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return FromYAML(data)
}
