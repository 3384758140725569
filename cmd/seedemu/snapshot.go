package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"seedemu/internal/codec"
	"seedemu/internal/emulator"
	"seedemu/internal/merger"
	"seedemu/internal/repository/sqlite"
)

// storePrefix marks a snapshot argument as a store name
const storePrefix = "@"

func newDumpCmd(a *app) *cobra.Command {
	var file, save string
	var render bool
	cmd := &cobra.Command{
		Use:   "dump <topology.yaml>",
		Short: "Load a topology and write its snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emu, err := a.loadTopology(args[0])
			if err != nil {
				return err
			}
			if render {
				if err := emu.Render(); err != nil {
					return err
				}
			}
			return a.emit(cmd, emu, file, save)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "write the snapshot to a file instead of stdout")
	cmd.Flags().StringVar(&save, "save", "", "store the snapshot under this name")
	cmd.Flags().BoolVar(&render, "render", false, "render before taking the snapshot")
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var file, save, name string
	cmd := &cobra.Command{
		Use:   "merge <snapshot> <snapshot>",
		Short: "Merge two unrendered snapshots",
		Long: `Merge two unrendered snapshots with the default mergers. Each snapshot
is a file path, or @name for a snapshot in the store. Conflicting
definitions are reported with the path of the conflicting entity.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := a.loadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			right, err := a.loadSnapshot(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			opts := []merger.Option{merger.WithLogger(a.logger)}
			if name != "" {
				opts = append(opts, merger.WithName(name))
			}
			merged, err := merger.MergeEmulators(left, right, merger.Defaults(), opts...)
			if err != nil {
				return err
			}
			return a.emit(cmd, merged, file, save)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "write the snapshot to a file instead of stdout")
	cmd.Flags().StringVar(&save, "save", "", "store the snapshot under this name")
	cmd.Flags().StringVar(&name, "name", "", "name of the merged emulator")
	return cmd
}

func newSnapshotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snapshot"},
		Short:   "Manage stored snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *sqlite.Store) error {
				records, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tEMULATOR\tID\tSIZE\tUPDATED")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Name, r.Emulator, r.ID, r.Size, r.Updated.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	})

	var file string
	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Write a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *sqlite.Store) error {
				snap, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeTo(cmd.OutOrStdout(), file, snap.Write)
			})
		},
	}
	get.Flags().StringVarP(&file, "file", "f", "", "write the snapshot to a file instead of stdout")
	cmd.AddCommand(get)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *sqlite.Store) error {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

// loadSnapshot restores an emulator from a file or, for @name, the store
func (a *app) loadSnapshot(ctx context.Context, src string) (*emulator.Emulator, error) {
	opts := []emulator.Option{emulator.WithLogger(a.logger)}

	if name, ok := strings.CutPrefix(src, storePrefix); ok {
		var emu *emulator.Emulator
		err := a.withStore(func(store *sqlite.Store) error {
			snap, err := store.Get(ctx, name)
			if err != nil {
				return err
			}
			emu, err = snap.Restore(opts...)
			return err
		})
		return emu, err
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return codec.Decode(f, opts...)
}

// emit writes the snapshot of emu to file or stdout, and stores it when
// save is set
func (a *app) emit(cmd *cobra.Command, emu *emulator.Emulator, file, save string) error {
	snap, err := codec.Build(emu)
	if err != nil {
		return err
	}
	if save != "" {
		if err := a.saveSnapshot(cmd.Context(), save, snap); err != nil {
			return err
		}
		if file == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", save)
			return nil
		}
	}
	return writeTo(cmd.OutOrStdout(), file, snap.Write)
}

func writeTo(stdout io.Writer, file string, write func(io.Writer) error) error {
	if file == "" {
		return write(stdout)
	}
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create %s: %w", file, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
