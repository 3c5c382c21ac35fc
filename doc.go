// Package skycache implements the offline resource cache and
// tiled-survey download engine for an astronomy-planning client.
//
// The cache persists two kinds of resource sets into named blob store
// partitions: the planetarium engine's static data layers (finite,
// declared file sets) and HiPS sky-survey image tiles (addressed by
// order and pixel index). Status is always derived from the store's
// actual contents, so the cache recovers from partial downloads and
// storage eviction by diffing declared files against stored keys and
// re-fetching only what is missing.
//
// A Manager owns the active download registry, writes through a
// conditional zstd codec into the store, and runs the schema-version
// migrator once at startup before any other component touches the
// store.
package skycache
