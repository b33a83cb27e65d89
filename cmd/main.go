package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"auction-parser/adapters"
	"auction-parser/internal/config"
	"auction-parser/internal/types"
	"auction-parser/store"
)

const appName = "auction-parser"

// AppFlags holds the persistent flags shared by every subcommand.
type AppFlags struct {
	ConfigPath string
	Verbose    bool
	Timeout    time.Duration
}

var Flags AppFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Parse vehicle auction listings from japantransit.ru",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&Flags.ConfigPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&Flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().DurationVar(&Flags.Timeout, "timeout", 0, "Request timeout (overrides config)")

	root.AddCommand(
		newParseCmd(),
		newMultiCmd(),
		newRunsCmd(),
		newClearCmd(),
		newInspectCmd(),
	)
	return root
}

// app is the wiring every subcommand starts from.
type app struct {
	config  *types.Config
	logger  *logrus.Logger
	adapter *adapters.JapanTransitAdapter
	store   store.Store
}

func newApp(ctx context.Context, withStore bool) (*app, error) {
	cfg, err := config.Load(Flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if Flags.Timeout > 0 {
		cfg.Timeout = Flags.Timeout
	}

	a := &app{config: cfg, logger: config.NewLogger(Flags.Verbose)}
	a.adapter = adapters.NewJapanTransitAdapter(cfg, a.logger)
	if withStore {
		a.store, err = store.Open(ctx, cfg, a.logger)
		if err != nil {
			a.adapter.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() {
	a.adapter.Close()
	if a.store != nil {
		a.store.Close()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
