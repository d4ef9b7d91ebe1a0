// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package asiloader

import (
	"errors"
	"fmt"
)

// ErrPluginsUnsupported is returned by the default opener on builds that
// cannot load plugin binaries.
var ErrPluginsUnsupported = errors.New("plugin loading not supported on this build")

// Library is an opened plugin binary.
type Library interface {
	// Lookup returns an exported symbol: a function value, or a pointer to
	// an exported variable.
	Lookup(symbol string) (any, error)
}

// Opener opens plugin binaries.
type Opener interface {
	Open(path string) (Library, error)
}

// lookup resolves an optional export of type F. A missing symbol is not an
// error; a symbol of another type is.
func lookup[F any](lib Library, name string) (fn F, found bool, err error) {
	sym, lerr := lib.Lookup(name)
	if lerr != nil || sym == nil {
		return fn, false, nil
	}
	switch v := sym.(type) {
	case F:
		return v, true, nil
	case *F:
		if v != nil {
			return *v, true, nil
		}
		return fn, false, nil
	}
	return fn, false, fmt.Errorf("export %s has unexpected type %T", name, sym)
}
