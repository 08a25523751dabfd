package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/fqdnguard/fqdnguard/api"
	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
	"github.com/fqdnguard/fqdnguard/middleware/filter"
	"github.com/fqdnguard/fqdnguard/middleware/forwarder"
	"github.com/fqdnguard/fqdnguard/server"

	_ "github.com/fqdnguard/fqdnguard/middleware/accesslist"
	_ "github.com/fqdnguard/fqdnguard/middleware/accesslog"
	_ "github.com/fqdnguard/fqdnguard/middleware/metrics"
	_ "github.com/fqdnguard/fqdnguard/middleware/ratelimit"
	_ "github.com/fqdnguard/fqdnguard/middleware/recovery"
)

const version = "0.1.0"

var flagcfgpath string

var rootCmd = &cobra.Command{
	Use:     "fqdnguard",
	Short:   "FQDN allowlisting DNS proxy",
	Long:    "fqdnguard intercepts local DNS queries, applies name-based allow and deny lists and forwards only permitted queries to the upstream resolver.",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		return run(cfg)
	},
	SilenceUsage: true,
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	rootCmd.Flags().StringVarP(&flagcfgpath, "config", "c", "fqdnguard.conf", "location of the config file, if config file not found, a config will generate")
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(flagcfgpath, version)
	if err != nil {
		return nil, err
	}

	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch strings.ToLower(cfg.LogLevel) {
	case "crit", "error":
		logger.SetLevel(zlog.LevelError)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	default:
		logger.SetLevel(zlog.LevelInfo)
	}

	zlog.SetDefault(logger)

	if err := middleware.Setup(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func run(cfg *config.Config) error {
	zlog.Info("Starting fqdnguard...", "version", version)

	srv := server.New(cfg)
	if err := srv.Run(); err != nil {
		return err
	}

	if f, ok := middleware.Get("forwarder").(*forwarder.Forwarder); ok {
		if err := f.Start(srv); err != nil {
			return err
		}
	}

	apiCtx, apiCancel := context.WithCancel(context.Background())
	defer apiCancel()

	api.New(cfg).Run(apiCtx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	zlog.Info("Stopping fqdnguard...")

	apiCancel()
	srv.Stop()

	if f, ok := middleware.Get("forwarder").(*forwarder.Forwarder); ok {
		f.Stop()
	}

	if f, ok := middleware.Get("filter").(*filter.Filter); ok {
		f.Stop()
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
