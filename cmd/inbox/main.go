package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mondzorg/inbox/internal/app"
	"github.com/mondzorg/inbox/internal/logger"
	"github.com/mondzorg/inbox/internal/model"
)

var (
	version = "dev"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Practice inbox ingestion and classification service",
	Long: `inbox pulls patient mail from the practice mailbox, classifies it
into inquiry categories and keeps it in a local SQLite database that the
dashboard API serves.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and print the result",
	RunE:  runSync,
}

var authURLCmd = &cobra.Command{
	Use:   "auth-url",
	Short: "Print the OAuth consent URL for the mailbox",
	RunE:  runAuthURL,
}

var exchangeCmd = &cobra.Command{
	Use:   "exchange <code>",
	Short: "Exchange an OAuth authorization code for a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runExchange,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the stored mailbox token",
	RunE:  runDisconnect,
}

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write the effective configuration to the config file",
	RunE:  runConfigInit,
}

var (
	syncQueryFlag string
	syncNoAIFlag  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Path to the YAML config file")

	syncCmd.Flags().StringVar(&syncQueryFlag, "query", "", "Provider search query (defaults to mailbox.query)")
	syncCmd.Flags().BoolVar(&syncNoAIFlag, "no-ai", false, "Classify with keywords only")

	rootCmd.AddCommand(serveCmd, syncCmd, authURLCmd, exchangeCmd, disconnectCmd, configInitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg)
	return cfg, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		return a.Serve(ctx)
	})
}

func runSync(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		useAI := a.Config.Sync.UseAI && !syncNoAIFlag
		result, err := a.Syncer.Sync(ctx, syncQueryFlag, useAI)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	})
}

func runAuthURL(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(_ context.Context, a *app.App) error {
		url, err := a.Auth.AuthCodeURL("")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	})
}

func runExchange(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Auth.ExchangeCode(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "mailbox connected")
		return nil
	})
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Auth.Disconnect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "mailbox disconnected")
		return nil
	})
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := model.SaveConfig(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", configPath)
	return nil
}
