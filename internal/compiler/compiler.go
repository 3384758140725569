// Package compiler turns a rendered emulator into deployable artifacts.
package compiler

import "seedemu/internal/emulator"

// Compiler writes the artifacts of a rendered emulator under dir. It is
// invoked through (*emulator.Emulator).Compile, which prepares dir.
type Compiler = emulator.Compiler

// ByName returns the compiler registered under name
func ByName(name string) (Compiler, bool) {
	switch name {
	case "", ManifestName:
		return NewManifest(), true
	}
	return nil, false
}
