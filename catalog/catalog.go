// Package catalog holds the immutable region, image and plan tables offered
// to the provisioning dashboard.
package catalog

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"strings"

	"github.com/miragespace/vpsdash/provider"

	extErrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Catalog is safe for concurrent reads and is never mutated after construction
type Catalog struct {
	regions []provider.Region
	images  []provider.Image
	plans   []provider.Plan

	regionIndex map[string]int
	imageIndex  map[string]int
	planIndex   map[string]int
}

// Snapshot is the wire and file representation of a Catalog
type Snapshot struct {
	Regions []provider.Region `json:"regions"`
	Images  []provider.Image  `json:"images"`
	Plans   []provider.Plan   `json:"plans"`
}

// New builds a Catalog. Duplicate ids keep the first occurrence.
func New(s Snapshot) *Catalog {
	c := &Catalog{
		regionIndex: make(map[string]int, len(s.Regions)),
		imageIndex:  make(map[string]int, len(s.Images)),
		planIndex:   make(map[string]int, len(s.Plans)),
	}
	for _, r := range s.Regions {
		key := normalize(r.ID)
		if key == "" || c.regionIndex[key] != 0 {
			continue
		}
		c.regions = append(c.regions, r)
		c.regionIndex[key] = len(c.regions)
	}
	for _, img := range s.Images {
		key := normalize(img.ID)
		if key == "" || c.imageIndex[key] != 0 {
			continue
		}
		c.images = append(c.images, img)
		c.imageIndex[key] = len(c.images)
	}
	for _, p := range s.Plans {
		key := normalize(p.ID)
		if key == "" || c.planIndex[key] != 0 {
			continue
		}
		c.plans = append(c.plans, p)
		c.planIndex[key] = len(c.plans)
	}
	return c
}

// LoadFile reads a JSON Snapshot from filename
func LoadFile(filename string) (*Catalog, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open catalog JSON file")
	}
	var s Snapshot
	if err := json.Unmarshal(jsonBytes, &s); err != nil {
		return nil, extErrors.Wrap(err, "Cannot parse catalog JSON file")
	}
	c := New(s)
	if c.Empty() {
		return nil, extErrors.New("Catalog JSON file defines no regions, images or plans")
	}
	return c, nil
}

// FromProvider fetches the three tables from p concurrently
func FromProvider(ctx context.Context, p provider.Provider) (*Catalog, error) {
	var s Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Regions, err = p.ListRegions(gctx)
		return extErrors.Wrap(err, "Cannot list regions")
	})
	g.Go(func() (err error) {
		s.Images, err = p.ListImages(gctx)
		return extErrors.Wrap(err, "Cannot list images")
	})
	g.Go(func() (err error) {
		s.Plans, err = p.ListPlans(gctx)
		return extErrors.Wrap(err, "Cannot list plans")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return New(s), nil
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (c *Catalog) Empty() bool {
	return len(c.regions) == 0 || len(c.images) == 0 || len(c.plans) == 0
}

func (c *Catalog) Region(id string) (provider.Region, bool) {
	i := c.regionIndex[normalize(id)]
	if i == 0 {
		return provider.Region{}, false
	}
	return c.regions[i-1], true
}

func (c *Catalog) Image(id string) (provider.Image, bool) {
	i := c.imageIndex[normalize(id)]
	if i == 0 {
		return provider.Image{}, false
	}
	return c.images[i-1], true
}

func (c *Catalog) Plan(id string) (provider.Plan, bool) {
	i := c.planIndex[normalize(id)]
	if i == 0 {
		return provider.Plan{}, false
	}
	return c.plans[i-1], true
}

// Snapshot returns copies of the tables
func (c *Catalog) Snapshot() Snapshot {
	return Snapshot{
		Regions: append([]provider.Region(nil), c.regions...),
		Images:  append([]provider.Image(nil), c.images...),
		Plans:   append([]provider.Plan(nil), c.plans...),
	}
}
