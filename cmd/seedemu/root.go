package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"seedemu/internal/config"
	"seedemu/internal/repository/sqlite"
)

// Keys shared by flags, SEEDEMU_* variables and the config file
const (
	keyConfig         = "config"
	keyLogLevel       = "log.level"
	keyLogDevelopment = "log.development"
	keyStore          = "store.path"
	keyOutput         = "output.dir"
	keyOverride       = "output.override"
	keyCompiler       = "compiler"
	keyServiceNetwork = "service_network"
	keyRemoteAccess   = "remote_access.provider"
	keySeed           = "remote_access.seed"
)

// app carries the state the subcommands share
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "seedemu",
		Short: "Compile declarative Internet topologies",
		Long: `seedemu builds emulated Internet topologies out of autonomous systems,
internet exchanges, routers and hosts.

A topology file is loaded into an emulator with the Base, Routing, Ospf,
Ibgp, Ebgp and DomainNameService layers attached. Rendering assigns
addresses and writes node configuration; compiling turns the result
into artifacts in the output directory. Unrendered emulators can be
saved as snapshots, merged and compiled later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "config file (default: search $SEEDEMU_CONFIG, ./seedemu.yaml, ./seedemu.toml, ~/.config/seedemu)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("dev", false, "development logging")
	flags.String("store", "", "snapshot database path")
	flags.String("service-network", "", "prefix of the network bridge nodes share")
	flags.String("remote-access", "", "remote access provider (softether, wireguard)")
	flags.String("seed", "", "key seed of the wireguard provider")
	flags.StringP("output", "o", "", "output directory of compiled artifacts")
	flags.Bool("override", false, "replace an existing output directory")
	flags.String(keyCompiler, "", "compiler (manifest)")

	for key, flag := range map[string]string{
		keyConfig:         keyConfig,
		keyLogLevel:       "log-level",
		keyLogDevelopment: "dev",
		keyStore:          "store",
		keyServiceNetwork: "service-network",
		keyRemoteAccess:   "remote-access",
		keySeed:           "seed",
		keyOutput:         "output",
		keyOverride:       "override",
		keyCompiler:       keyCompiler,
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newRenderCmd(a),
		newCompileCmd(a),
		newDumpCmd(a),
		newMergeCmd(a),
		newSnapshotsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads .env, the config file and the overrides, then builds the
// logger
func (a *app) setup(cmd *cobra.Command) error {
	if err := loadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	a.v.SetEnvPrefix("SEEDEMU")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	var err error
	if path := a.v.GetString(keyConfig); path != "" {
		a.cfg, _, err = config.LoadFromPath(path)
	} else {
		a.cfg, _, err = config.Load()
	}
	if err != nil {
		return err
	}
	a.overlay()
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	a.logger, err = a.cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	a.logger.Debug("configuration loaded", zap.String("command", cmd.Name()))
	return nil
}

// overlay applies flags and SEEDEMU_* variables over the config file
func (a *app) overlay() {
	setString := func(key string, dst *string) {
		if a.v.IsSet(key) {
			*dst = a.v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if a.v.IsSet(key) {
			*dst = a.v.GetBool(key)
		}
	}
	setString(keyLogLevel, &a.cfg.Log.Level)
	setBool(keyLogDevelopment, &a.cfg.Log.Development)
	setString(keyStore, &a.cfg.Store.Path)
	setString(keyOutput, &a.cfg.Output.Dir)
	setBool(keyOverride, &a.cfg.Output.Override)
	setString(keyCompiler, &a.cfg.Compiler)
	setString(keyServiceNetwork, &a.cfg.ServiceNetwork)
	setString(keyRemoteAccess, &a.cfg.RemoteAccess.Provider)
	setString(keySeed, &a.cfg.RemoteAccess.Seed)
}

// withStore opens the snapshot store for the duration of fn
func (a *app) withStore(fn func(store *sqlite.Store) error) error {
	store, err := sqlite.New(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// compileContext bounds a compile by the configured timeout
func (a *app) compileContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := a.cfg.Output.Timeout.Duration(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func loadDotEnv() error {
	err := godotenv.Load(".env")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print a summary of the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.cfg.Summary())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s: %w", path, fs.ErrExist)
			}
			if err := a.cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
