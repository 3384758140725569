package emulator

import (
	"fmt"

	"seedemu/internal/errdefs"
)

// Dependency names a layer that must render first. Optional dependencies
// only order layers that are attached.
type Dependency struct {
	Layer    string `yaml:"layer" json:"layer"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Requires returns a hard dependency on layer
func Requires(layer string) Dependency {
	return Dependency{Layer: layer}
}

// Prefers returns a soft dependency on layer
func Prefers(layer string) Dependency {
	return Dependency{Layer: layer, Optional: true}
}

// Layer is a unit of configuration logic.
//
// RegisterNodes may create and register objects; it can only rely on objects
// of its hard dependencies. Configure may read anything in the registry and
// mutate nodes. Both run at most once per layer and emulator.
type Layer interface {
	Name() string
	Dependencies() []Dependency
	RegisterNodes(emu *Emulator) error
	Configure(emu *Emulator) error
}

// LayerStatus tracks how far a layer has rendered
type LayerStatus struct {
	Registered bool `yaml:"registered" json:"registered"`
	Configured bool `yaml:"configured" json:"configured"`
}

// GetLayer returns the attached layer called name as a T
func GetLayer[T Layer](e *Emulator, name string) (T, error) {
	var zero T
	l, err := e.Layer(name)
	if err != nil {
		return zero, err
	}
	v, ok := l.(T)
	if !ok {
		return zero, fmt.Errorf("layer %s is %T: %w", name, l, errdefs.ErrNotFound)
	}
	return v, nil
}
