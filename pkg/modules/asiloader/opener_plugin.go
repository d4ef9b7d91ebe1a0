// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build (linux || darwin || freebsd) && cgo

package asiloader

import "plugin"

// PluginOpener loads Go plugin binaries (built with -buildmode=plugin).
// Loaded plugins stay mapped for the life of the process.
type PluginOpener struct{}

func (PluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginLibrary{p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}
