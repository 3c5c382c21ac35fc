package skycache

import (
	"sort"
)

// Registry holds the static layer descriptors known to the cache.
type Registry struct {
	layers map[string]LayerDescriptor
	order  []string
}

// NewRegistry creates a registry from the given descriptors. Later
// descriptors with a duplicate ID replace earlier ones.
func NewRegistry(layers ...LayerDescriptor) *Registry {
	r := &Registry{layers: make(map[string]LayerDescriptor, len(layers))}
	for _, l := range layers {
		if _, ok := r.layers[l.ID]; !ok {
			r.order = append(r.order, l.ID)
		}
		r.layers[l.ID] = l
	}
	return r
}

// Layer returns the descriptor for id.
func (r *Registry) Layer(id string) (LayerDescriptor, bool) {
	l, ok := r.layers[id]
	return l, ok
}

// Layers returns all descriptors in declaration order.
func (r *Registry) Layers() []LayerDescriptor {
	out := make([]LayerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.layers[id])
	}
	return out
}

// ByPriority returns all descriptors sorted by ascending priority, so
// more essential layers land first if a batch download is interrupted.
func (r *Registry) ByPriority() []LayerDescriptor {
	out := r.Layers()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// DefaultLayers returns the built-in layer set for the planetarium
// engine's offline data.
func DefaultLayers() []LayerDescriptor {
	return []LayerDescriptor{
		{
			ID:          "engine-core",
			DisplayName: "Engine core",
			BaseURL:     "https://data.skymap.app/engine",
			Files: []string{
				"stellarium-web-engine.wasm",
				"stellarium-web-engine.js",
				"symbols.png",
				"font/NotoSans-Regular.ttf",
				"font/NotoSansSC-Regular.otf",
			},
			EstimatedSizeBytes: 18 << 20,
			Priority:           0,
		},
		{
			ID:          "stars",
			DisplayName: "Star catalog",
			BaseURL:     "https://data.skymap.app/skydata/stars",
			Files: []string{
				"info.json",
				"stars_0_0v0_2.eph",
				"stars_1_0v0_2.eph",
				"stars_2_0v0_2.eph",
				"stars_3_0v0_2.eph",
				"minimal_0_0v0_2.eph",
			},
			EstimatedSizeBytes: 42 << 20,
			Priority:           1,
		},
		{
			ID:          "dso",
			DisplayName: "Deep-sky objects",
			BaseURL:     "https://data.skymap.app/skydata/dso",
			Files: []string{
				"info.json",
				"dso_0_0v0_1.eph",
				"dso_1_0v0_1.eph",
			},
			EstimatedSizeBytes: 9 << 20,
			Priority:           2,
		},
		{
			ID:          "skycultures",
			DisplayName: "Sky cultures",
			BaseURL:     "https://data.skymap.app/skydata/skycultures",
			Files: []string{
				"western/info.json",
				"western/index.json",
				"western/constellations.json",
				"western/names.json",
				"western/illustrations.json",
			},
			EstimatedSizeBytes: 3 << 20,
			Priority:           3,
		},
		{
			ID:          "ssystem",
			DisplayName: "Solar system",
			BaseURL:     "https://data.skymap.app/skydata/ssystem",
			Files: []string{
				"info.json",
				"planets.json",
				"moons.json",
				"rings.json",
			},
			EstimatedSizeBytes: 2 << 20,
			Priority:           4,
		},
		{
			ID:          "surveys",
			DisplayName: "Survey metadata",
			BaseURL:     "https://data.skymap.app/skydata/surveys",
			Files: []string{
				"registry.json",
				"dss/properties",
				"dss/index.json",
			},
			EstimatedSizeBytes: 512 << 10,
			Priority:           5,
		},
		{
			ID:          "mpc",
			DisplayName: "Minor-body orbital elements",
			BaseURL:     "https://data.skymap.app/skydata/mpc",
			Files: []string{
				"mpcorb.json",
				"comets.json",
			},
			EstimatedSizeBytes: 14 << 20,
			Priority:           6,
		},
	}
}
