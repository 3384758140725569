// Package merger combines two independently built emulators into one.
//
// Every layer kind has a Merger. The default policy is a union: entities
// present on one side are carried over, and identically named entities
// present on both sides must be equal. A difference is reported as a
// *ConflictError naming the offending path; a merger never silently
// prefers one side.
package merger

import (
	"fmt"

	"go.uber.org/zap"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
)

// Merger merges two layers of the same kind
type Merger interface {
	Name() string
	TargetLayer() string
	Merge(a, b emulator.Layer) (emulator.Layer, error)
}

// ConflictError reports an entity that differs between the two inputs
type ConflictError struct {
	Path   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %s: %s", e.Path, e.Reason)
}

func (e *ConflictError) Unwrap() error { return errdefs.ErrMergeConflict }

func conflict(path, format string, args ...any) error {
	return &ConflictError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Defaults returns a merger for every layer in package layers
func Defaults() []Merger {
	return []Merger{
		BaseMerger{},
		RoutingMerger{},
		OspfMerger{},
		IbgpMerger{},
		EbgpMerger{},
		DNSMerger{},
	}
}

type options struct {
	logger *zap.Logger
	name   string
}

// Option configures MergeEmulators
type Option func(*options)

// WithLogger sets the logger of the merge and of the merged emulator
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName names the merged emulator. The default is the name of a.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// MergeEmulators builds a new, unrendered emulator from a and b. Layers
// attached to one input are carried over as they are; layers attached to
// both are merged by the merger targeting that layer. Both inputs must be
// unrendered, and they share their model objects with the result, so they
// should not be rendered afterwards.
func MergeEmulators(a, b *emulator.Emulator, mergers []Merger, opts ...Option) (*emulator.Emulator, error) {
	o := options{logger: zap.NewNop(), name: a.Name()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.Named("merger")

	for _, emu := range []*emulator.Emulator{a, b} {
		if emu.Rendered() || emu.Failed() != nil {
			return nil, fmt.Errorf("merge: emulator %s is rendered: %w", emu.Name(), errdefs.ErrInvalidTopology)
		}
		for _, l := range emu.Layers() {
			if emu.Status(l.Name()).Registered {
				return nil, fmt.Errorf("merge: layer %s of %s is rendered: %w", l.Name(), emu.Name(), errdefs.ErrInvalidTopology)
			}
		}
	}
	if a.ServicePrefix() != b.ServicePrefix() {
		return nil, conflict("service_network", "%s and %s differ", a.ServicePrefix(), b.ServicePrefix())
	}

	byTarget := make(map[string]Merger, len(mergers))
	for _, m := range mergers {
		byTarget[m.TargetLayer()] = m
	}

	out := emulator.New(
		emulator.WithName(o.name),
		emulator.WithLogger(o.logger),
		emulator.WithServiceNetwork(a.ServicePrefix()),
	)

	for _, la := range a.Layers() {
		lb, err := b.Layer(la.Name())
		if err != nil {
			log.Debug("carrying layer", zap.String("layer", la.Name()), zap.String("from", a.Name()))
			if err := out.AddLayer(la); err != nil {
				return nil, err
			}
			continue
		}
		m, ok := byTarget[la.Name()]
		if !ok {
			return nil, fmt.Errorf("merge: no merger for layer %s: %w", la.Name(), errdefs.ErrNotFound)
		}
		merged, err := m.Merge(la, lb)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", la.Name(), err)
		}
		log.Debug("merged layer", zap.String("layer", la.Name()), zap.String("merger", m.Name()))
		if err := out.AddLayer(merged); err != nil {
			return nil, err
		}
	}
	for _, lb := range b.Layers() {
		if _, err := a.Layer(lb.Name()); err == nil {
			continue
		}
		log.Debug("carrying layer", zap.String("layer", lb.Name()), zap.String("from", b.Name()))
		if err := out.AddLayer(lb); err != nil {
			return nil, err
		}
	}

	log.Info("merged emulators",
		zap.String("a", a.Name()),
		zap.String("b", b.Name()),
		zap.Int("layers", len(out.Layers())))
	return out, nil
}

// cast asserts both layers to T
func cast[T emulator.Layer](m Merger, a, b emulator.Layer) (T, T, error) {
	ta, okA := a.(T)
	tb, okB := b.(T)
	if !okA || !okB {
		var zero T
		return zero, zero, fmt.Errorf("%s: cannot merge %T with %T: %w", m.Name(), a, b, errdefs.ErrInvalidTopology)
	}
	return ta, tb, nil
}
