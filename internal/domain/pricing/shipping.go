package pricing

import (
	_ "embed"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

//go:embed shipping.yaml
var defaultShippingYAML []byte

// ErrEmptyTable is returned when a shipping table defines no regions.
var ErrEmptyTable = errors.New("shipping table has no regions")

// City is a delivery destination within a region.
type City struct {
	Name   string `yaml:"name" json:"name"`
	Remote bool   `yaml:"remote,omitempty" json:"remote"`
}

// Region groups the cities delivered to under one name.
type Region struct {
	Name   string `yaml:"name" json:"name"`
	Cities []City `yaml:"cities" json:"cities"`
}

// ShippingTable maps regions to their ordered cities. It is read-only after
// construction and safe for concurrent use.
type ShippingTable struct {
	regions []Region
	byName  map[string]int
	remote  map[string]bool
}

type shippingFile struct {
	Regions []Region `yaml:"regions"`
}

// NewShippingTable builds a table from regions. Region and city names are
// matched case-insensitively; blank names and duplicates are rejected.
func NewShippingTable(regions []Region) (*ShippingTable, error) {
	if len(regions) == 0 {
		return nil, ErrEmptyTable
	}

	t := &ShippingTable{
		regions: make([]Region, 0, len(regions)),
		byName:  make(map[string]int, len(regions)),
		remote:  make(map[string]bool),
	}
	for _, r := range regions {
		key := foldName(r.Name)
		if key == "" {
			return nil, errors.New("region without name")
		}
		if _, dup := t.byName[key]; dup {
			return nil, errors.Errorf("duplicate region %q", r.Name)
		}

		cities := make([]City, 0, len(r.Cities))
		seen := make(map[string]struct{}, len(r.Cities))
		for _, c := range r.Cities {
			ck := foldName(c.Name)
			if ck == "" {
				return nil, errors.Errorf("region %q: city without name", r.Name)
			}
			if _, dup := seen[ck]; dup {
				return nil, errors.Errorf("region %q: duplicate city %q", r.Name, c.Name)
			}
			seen[ck] = struct{}{}
			cities = append(cities, City{Name: strings.TrimSpace(c.Name), Remote: c.Remote})
			if c.Remote {
				t.remote[ck] = true
			}
		}

		t.byName[key] = len(t.regions)
		t.regions = append(t.regions, Region{Name: strings.TrimSpace(r.Name), Cities: cities})
	}
	return t, nil
}

// ParseShippingTable decodes a YAML shipping table.
func ParseShippingTable(data []byte) (*ShippingTable, error) {
	var f shippingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode shipping table")
	}
	return NewShippingTable(f.Regions)
}

// LoadShippingTable reads a YAML shipping table from path. An empty path
// yields the built-in table.
func LoadShippingTable(path string) (*ShippingTable, error) {
	if path == "" {
		return DefaultShippingTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read shipping table %q", path)
	}
	return ParseShippingTable(data)
}

// DefaultShippingTable returns the built-in table.
func DefaultShippingTable() (*ShippingTable, error) {
	return ParseShippingTable(defaultShippingYAML)
}

// Regions returns all regions in declaration order.
func (t *ShippingTable) Regions() []Region {
	out := make([]Region, len(t.regions))
	for i, r := range t.regions {
		out[i] = Region{Name: r.Name, Cities: append([]City(nil), r.Cities...)}
	}
	return out
}

// Cities returns the cities of region, or nil if the region is unknown.
func (t *ShippingTable) Cities(region string) []City {
	idx, ok := t.byName[foldName(region)]
	if !ok {
		return nil
	}
	return append([]City(nil), t.regions[idx].Cities...)
}

// HasRegion reports whether region is served.
func (t *ShippingTable) HasRegion(region string) bool {
	_, ok := t.byName[foldName(region)]
	return ok
}

// HasCity reports whether city belongs to region.
func (t *ShippingTable) HasCity(region, city string) bool {
	idx, ok := t.byName[foldName(region)]
	if !ok {
		return false
	}
	ck := foldName(city)
	for _, c := range t.regions[idx].Cities {
		if foldName(c.Name) == ck {
			return true
		}
	}
	return false
}

// IsRemote reports whether city carries the remote delivery surcharge.
func (t *ShippingTable) IsRemote(city string) bool {
	if t == nil {
		return false
	}
	return t.remote[foldName(city)]
}

func foldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
