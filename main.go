package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bankline/recordbank/bank"
	"github.com/bankline/recordbank/client"
	"github.com/bankline/recordbank/config"
	"github.com/bankline/recordbank/logging"
	"github.com/bankline/recordbank/server"
	"github.com/bankline/recordbank/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "bank",
		Short:         "Multi-user banking service over flat record files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/config.yaml)")
	root.PersistentFlags().String("data-dir", "", "directory holding the record files")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	root.PersistentFlags().String("log-format", "", "json or console")
	bind(v, root, "data.dir", "data-dir")
	bind(v, root, "log.level", "log-level")
	bind(v, root, "log.format", "log-format")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Accept client connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	serve.Flags().String("addr", "", "listen address")
	bind(v, serve, "server.addr", "addr")

	connect := &cobra.Command{
		Use:   "connect",
		Short: "Open an interactive session against a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return client.New().Run(cmd.Context(), cfg.Client.Addr)
		},
	}
	connect.Flags().String("addr", "", "server address")
	bind(v, connect, "client.addr", "addr")

	root.AddCommand(serve, connect)
	return root
}

func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	layout := bank.NewLayout(cfg.Data.Dir)
	sessions, err := session.NewService(layout.Sessions, log)
	if err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	b := bank.New(layout, sessions, log, bank.Options{
		BcryptCost:           cfg.Security.BcryptCost,
		DefaultAdminPassword: cfg.Security.DefaultAdminPassword,
		HistoryLimit:         cfg.Ledger.HistoryLimit,
	})

	log.Info("starting", zap.String("addr", cfg.Server.Addr), zap.String("data", cfg.Data.Dir))
	if err := server.New(b, sessions, log).ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
