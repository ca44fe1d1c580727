package template

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// minKernelSide is the smallest template side kept when building pyramid levels.
const minKernelSide = 12

// Spec is one named visual marker.
//
// Specs are immutable once the catalog is built and may be shared between
// worker goroutines.
type Spec struct {
	Name      string
	Path      string
	Threshold float64

	levels []*kernel // levels[0] is full resolution
	err    error
}

// Ready reports whether the template has a usable artifact.
func (s Spec) Ready() bool {
	return len(s.levels) > 0
}

// Err returns why the artifact is unavailable, or nil.
func (s Spec) Err() error {
	return s.err
}

// Size returns the template dimensions at full resolution.
func (s Spec) Size() (int, int) {
	if !s.Ready() {
		return 0, 0
	}
	return s.levels[0].w, s.levels[0].h
}

func newSpec(name, path string, threshold float64, img image.Image) Spec {
	spec := Spec{Name: name, Path: path, Threshold: threshold}
	p := toPlane(img)
	if p.w == 0 || p.h == 0 {
		spec.err = fmt.Errorf("%w: empty image", ErrNoArtifact)
		return spec
	}
	for {
		spec.levels = append(spec.levels, newKernel(p))
		if p.w/2 < minKernelSide || p.h/2 < minKernelSide {
			break
		}
		p = p.half()
	}
	return spec
}

// Catalog is the read-only set of templates a worker evaluates.
type Catalog struct {
	threshold float64
	specs     map[string]Spec
	order     []string
}

// NewCatalog creates an empty catalog whose specs default to threshold.
func NewCatalog(threshold float64) (*Catalog, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, ErrInvalidThreshold
	}
	return &Catalog{
		threshold: threshold,
		specs:     make(map[string]Spec),
	}, nil
}

// LoadCatalog reads every *.png file in dir.
//
// Names listed in order come first, in that order; the remaining templates
// follow alphabetically. Names in order without a file are ignored. A file
// that fails to decode is still registered, without an artifact.
//
// Parameters:
//   - dir: Directory containing the template images
//   - threshold: Minimum correlation for a match, in (0, 1]
//   - order: Preferred evaluation order (may be nil)
//
// Returns:
//   - *Catalog: Loaded catalog
//   - error: If the threshold is invalid or the directory cannot be read
func LoadCatalog(dir string, threshold float64, order []string) (*Catalog, error) {
	c, err := NewCatalog(threshold)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading template dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(dir, e.Name())

		img, loadErr := decodePNG(path)
		var spec Spec
		if loadErr != nil {
			spec = Spec{Name: name, Path: path, Threshold: threshold, err: fmt.Errorf("%w: %v", ErrNoArtifact, loadErr)}
		} else {
			spec = newSpec(name, path, threshold, img)
		}
		if _, dup := c.specs[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		c.specs[name] = spec
		names = append(names, name)
	}

	sort.Strings(names)
	c.order = orderNames(names, order)
	return c, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the configured template directory
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// orderNames places preferred names first, then the rest in their given order.
func orderNames(names, preferred []string) []string {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	out := make([]string, 0, len(names))
	used := make(map[string]bool, len(names))
	for _, n := range preferred {
		if present[n] && !used[n] {
			out = append(out, n)
			used[n] = true
		}
	}
	for _, n := range names {
		if !used[n] {
			out = append(out, n)
		}
	}
	return out
}

// Add registers an in-memory template, appended to the evaluation order.
func (c *Catalog) Add(name string, img image.Image) error {
	if _, dup := c.specs[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	c.specs[name] = newSpec(name, "", c.threshold, img)
	c.order = append(c.order, name)
	return nil
}

// Get returns the Spec registered under name.
func (c *Catalog) Get(name string) (Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// Names returns template names in evaluation order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of templates, including ones without an artifact.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Threshold returns the catalog's default match threshold.
func (c *Catalog) Threshold() float64 {
	return c.threshold
}
