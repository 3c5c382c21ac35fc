package skycache

import "errors"

// Sentinel errors.
var (
	// ErrUnknownLayer is returned when a layer id is not in the registry.
	ErrUnknownLayer = errors.New("skycache: unknown layer")

	// ErrAlreadyDownloading is returned when a download is requested for
	// a layer or survey that already has one in flight.
	ErrAlreadyDownloading = errors.New("skycache: already downloading")

	// ErrStoreUnavailable is returned when the blob store cannot be opened.
	ErrStoreUnavailable = errors.New("skycache: store unavailable")

	// ErrInvalidOrder is returned when a HiPS order is outside 0..MaxHiPSOrder.
	ErrInvalidOrder = errors.New("skycache: invalid HiPS order")
)
