package core

import "errors"

// ErrUnsupported marks valid HDF5 constructs this package does not handle.
var ErrUnsupported = errors.New("unsupported HDF5 feature")
