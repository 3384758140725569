// Package emulator drives the two-phase render of an emulation.
//
// Layers are attached with AddLayer. Render orders them by their
// dependencies, then runs RegisterNodes for every layer that has not
// registered yet, then Configure for every layer that has not configured yet.
// Rendering again after attaching more layers only runs the new ones.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"

	"go.uber.org/zap"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// ServiceNetworkName is the name of the network bridge nodes share.
const ServiceNetworkName = "000_svc"

// DefaultServicePrefix is the prefix of the service network.
var DefaultServicePrefix = netip.MustParsePrefix("192.168.66.0/24")

// Compiler turns a rendered emulator into artifacts under dir
type Compiler interface {
	Name() string
	Compile(ctx context.Context, emu *Emulator, dir string) error
}

// Option configures an Emulator
type Option func(*Emulator)

// WithLogger sets the logger layers log through
func WithLogger(logger *zap.Logger) Option {
	return func(e *Emulator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithName names the emulation
func WithName(name string) Option {
	return func(e *Emulator) {
		if name != "" {
			e.name = name
		}
	}
}

// WithServiceNetwork overrides the service network prefix
func WithServiceNetwork(prefix netip.Prefix) Option {
	return func(e *Emulator) {
		if prefix.IsValid() {
			e.servicePrefix = prefix
		}
	}
}

// Emulator owns the registry and the attached layers of one emulation
type Emulator struct {
	name          string
	logger        *zap.Logger
	reg           *registry.Registry
	servicePrefix netip.Prefix

	layers []Layer
	status map[string]*LayerStatus

	rendered bool
	failed   error
}

// New creates an empty emulator
func New(opts ...Option) *Emulator {
	e := &Emulator{
		name:          "seedemu",
		logger:        zap.NewNop(),
		reg:           registry.New(),
		servicePrefix: DefaultServicePrefix,
		status:        make(map[string]*LayerStatus),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the emulation name
func (e *Emulator) Name() string { return e.name }

// Logger returns the emulator logger
func (e *Emulator) Logger() *zap.Logger { return e.logger }

// Registry returns the registry shared by all layers
func (e *Emulator) Registry() *registry.Registry { return e.reg }

// ServicePrefix returns the prefix of the service network
func (e *Emulator) ServicePrefix() netip.Prefix { return e.servicePrefix }

// Rendered reports whether the last Render succeeded
func (e *Emulator) Rendered() bool { return e.rendered && e.failed == nil }

// Failed returns the error of a failed render, if any
func (e *Emulator) Failed() error { return e.failed }

// AddLayer attaches a layer. Layer names are unique within an emulator.
func (e *Emulator) AddLayer(l Layer) error {
	return e.RestoreLayer(l, LayerStatus{})
}

// RestoreLayer attaches a layer that has already rendered as far as st says.
// It is used when an emulator is rebuilt from a snapshot.
func (e *Emulator) RestoreLayer(l Layer, st LayerStatus) error {
	name := l.Name()
	if _, exists := e.status[name]; exists {
		return fmt.Errorf("layer %s: %w", name, errdefs.ErrDuplicateKey)
	}
	e.layers = append(e.layers, l)
	e.status[name] = &st
	if !st.Configured {
		e.rendered = false
	}
	return nil
}

// Layer returns the attached layer called name
func (e *Emulator) Layer(name string) (Layer, error) {
	for _, l := range e.layers {
		if l.Name() == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("layer %s: %w", name, errdefs.ErrNotFound)
}

// Layers returns the attached layers in registration order
func (e *Emulator) Layers() []Layer {
	return append([]Layer(nil), e.layers...)
}

// Status returns the render progress of the layer called name
func (e *Emulator) Status(name string) LayerStatus {
	if st, ok := e.status[name]; ok {
		return *st
	}
	return LayerStatus{}
}

// ServiceNetwork returns the network shared by bridge nodes, creating and
// registering it on first use.
func (e *Emulator) ServiceNetwork() (*topology.Network, error) {
	if e.reg.Has(registry.ScopeEmulator, registry.ClassNetwork, ServiceNetworkName) {
		return registry.GetAs[*topology.Network](e.reg, registry.ScopeEmulator, registry.ClassNetwork, ServiceNetworkName)
	}
	last := 1<<(32-e.servicePrefix.Bits()) - 2
	aac := &topology.AddressAssignmentConstraint{
		Hosts:   topology.OffsetRange{From: 2, To: last},
		Routers: topology.OffsetRange{From: last, To: 2},
	}
	net, err := topology.NewNetwork(ServiceNetworkName, registry.ScopeEmulator, topology.NetworkBridge, e.servicePrefix, aac)
	if err != nil {
		return nil, fmt.Errorf("service network: %w", err)
	}
	if err := e.reg.Register(registry.ScopeEmulator, registry.ClassNetwork, ServiceNetworkName, net); err != nil {
		return nil, err
	}
	return net, nil
}

// Render runs both phases for every layer that has not completed them. A
// failed render is final: the emulator refuses to render or compile again.
func (e *Emulator) Render() error {
	if e.failed != nil {
		return fmt.Errorf("emulator %s: previous render failed: %w", e.name, e.failed)
	}
	order, err := e.resolveOrder()
	if err != nil {
		return e.fail(err)
	}

	for _, l := range order {
		st := e.status[l.Name()]
		if st.Registered {
			continue
		}
		e.logger.Debug("registering nodes", zap.String("layer", l.Name()))
		if err := l.RegisterNodes(e); err != nil {
			return e.fail(fmt.Errorf("layer %s: register nodes: %w", l.Name(), err))
		}
		st.Registered = true
	}

	for _, l := range order {
		st := e.status[l.Name()]
		if st.Configured {
			continue
		}
		e.logger.Debug("configuring", zap.String("layer", l.Name()))
		if err := l.Configure(e); err != nil {
			return e.fail(fmt.Errorf("layer %s: configure: %w", l.Name(), err))
		}
		st.Configured = true
	}

	e.rendered = true
	e.logger.Info("render complete",
		zap.String("emulator", e.name),
		zap.Int("layers", len(order)),
		zap.Int("objects", e.reg.Len()))
	return nil
}

func (e *Emulator) fail(err error) error {
	e.failed = err
	e.rendered = false
	e.logger.Error("render failed", zap.String("emulator", e.name), zap.Error(err))
	return err
}

// Compile hands the rendered emulator to c. An existing output directory is
// removed first when override is set, otherwise it is an error.
func (e *Emulator) Compile(ctx context.Context, c Compiler, dir string, override bool) error {
	if e.failed != nil {
		return fmt.Errorf("compile: render failed: %w", e.failed)
	}
	if !e.rendered {
		return fmt.Errorf("compile: emulator %s is not rendered: %w", e.name, errdefs.ErrInvalidTopology)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(dir); err == nil {
		if !override {
			return fmt.Errorf("compile: %s: %w", dir, fs.ErrExist)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("compile: remove %s: %w", dir, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("compile: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("compile: create %s: %w", dir, err)
	}

	e.logger.Info("compiling", zap.String("compiler", c.Name()), zap.String("dir", dir))
	return c.Compile(ctx, e, dir)
}
