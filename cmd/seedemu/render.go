package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seedemu/internal/codec"
	"seedemu/internal/compiler"
	"seedemu/internal/emulator"
	"seedemu/internal/loader"
	"seedemu/internal/repository/sqlite"
	"seedemu/internal/watcher"
)

func newRenderCmd(a *app) *cobra.Command {
	var save string
	var watch bool
	cmd := &cobra.Command{
		Use:   "render <topology.yaml>",
		Short: "Load a topology, render it and compile the result",
		Long: `Load a topology, render it and compile the result. With --watch the
command keeps running and rebuilds into the same output directory each
time the topology file changes; a failed rebuild leaves the previous
artifacts in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.build(cmd, args[0], save); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			a.cfg.Output.Override = true
			w := watcher.New(func(ctx context.Context, path string) error {
				return a.build(cmd, path, save)
			}, args[0]).WithLogger(a.logger)
			if err := w.Watch(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "also store the rendered snapshot under this name")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rebuild when the topology file changes")
	return cmd
}

// build loads, renders and compiles one topology file
func (a *app) build(cmd *cobra.Command, path, save string) error {
	emu, err := a.loadTopology(path)
	if err != nil {
		return err
	}
	if err := emu.Render(); err != nil {
		return err
	}
	if save != "" {
		if err := a.save(cmd.Context(), save, emu); err != nil {
			return err
		}
	}
	return a.compile(cmd, emu)
}

func newCompileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <snapshot>",
		Short: "Render a snapshot and compile it",
		Long: `Render a snapshot and compile it. The snapshot is a file path, or
@name for a snapshot in the store. Layers that were already rendered
when the snapshot was taken are not rendered again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emu, err := a.loadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := emu.Render(); err != nil {
				return err
			}
			return a.compile(cmd, emu)
		},
	}
}

// loadTopology loads a topology file with the configured provider and
// service network
func (a *app) loadTopology(path string) (*emulator.Emulator, error) {
	provider, err := a.cfg.Provider()
	if err != nil {
		return nil, err
	}
	prefix, err := a.cfg.ServicePrefix()
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(path,
		loader.WithLogger(a.logger),
		loader.WithRemoteAccess(provider),
		loader.WithServiceNetwork(prefix))
}

func (a *app) compile(cmd *cobra.Command, emu *emulator.Emulator) error {
	c, ok := compiler.ByName(a.cfg.Compiler)
	if !ok {
		return fmt.Errorf("unknown compiler %q", a.cfg.Compiler)
	}
	ctx, cancel := a.compileContext(cmd.Context())
	defer cancel()

	if err := emu.Compile(ctx, c, a.cfg.Output.Dir, a.cfg.Output.Override); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compiled %s to %s\n", emu.Name(), a.cfg.Output.Dir)
	return nil
}

func (a *app) save(ctx context.Context, name string, emu *emulator.Emulator) error {
	snap, err := codec.Build(emu)
	if err != nil {
		return err
	}
	return a.saveSnapshot(ctx, name, snap)
}

func (a *app) saveSnapshot(ctx context.Context, name string, snap *codec.Snapshot) error {
	return a.withStore(func(store *sqlite.Store) error {
		rec, err := store.Save(ctx, name, snap)
		if err != nil {
			return err
		}
		a.logger.Info("snapshot saved",
			zap.String("name", rec.Name),
			zap.String("id", rec.ID),
			zap.Int("bytes", rec.Size))
		return nil
	})
}
