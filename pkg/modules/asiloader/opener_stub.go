// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !((linux || darwin || freebsd) && cgo)

package asiloader

// PluginOpener fails every open on this build.
type PluginOpener struct{}

func (PluginOpener) Open(string) (Library, error) {
	return nil, ErrPluginsUnsupported
}
