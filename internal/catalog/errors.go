package catalog

import "errors"

var (
	// ErrNoCatalog is returned by Load when nothing has been saved yet.
	ErrNoCatalog = errors.New("catalog: no stored catalog")

	// ErrNotLoaded is returned by Save for a catalog whose discovery is incomplete.
	ErrNotLoaded = errors.New("catalog: catalog not fully loaded")
)
