package ckptdb

import "errors"

// ErrClosed is returned by any operation attempted on an Engine after Close
// has been called.
var ErrClosed = errors.New("ckptdb: engine is closed")

// ErrNotFound is returned when a requested version, column, or file number
// does not exist in the store.
var ErrNotFound = errors.New("ckptdb: version not found")

// ErrCorruptManifest is returned when the on-disk manifest log cannot be
// parsed during Open. A corrupt manifest fails the open of that one store;
// OpenAll, which opens its stores together, then fails as a whole and
// closes the stores it had already opened.
var ErrCorruptManifest = errors.New("ckptdb: corrupt manifest")

// ErrOutOfBounds is returned by MultiEngine when a store index falls
// outside the set of opened stores.
var ErrOutOfBounds = errors.New("ckptdb: index out of bounds")
