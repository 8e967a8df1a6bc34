package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quantleap/simtrader/internal/config"
	"github.com/quantleap/simtrader/internal/engine"
	"github.com/quantleap/simtrader/internal/market"
	"github.com/quantleap/simtrader/internal/observ"
	"github.com/quantleap/simtrader/internal/oracle"
	"github.com/quantleap/simtrader/internal/server"
	"github.com/quantleap/simtrader/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "simtrader",
		Short:         "AI-driven leveraged trading simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	var autostart bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulator and its HTTP control surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath, autostart)
		},
	}
	runCmd.Flags().StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	runCmd.Flags().BoolVar(&autostart, "autostart", true, "start the trading loop immediately")
	root.AddCommand(runCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		observ.Log("fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, autostart bool) error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	oa, err := oracle.NewClient(cfg.Oracle)
	if err != nil {
		return err
	}

	eng := engine.New(cfg.Trading, oa, market.NewBinanceProvider(cfg.Market), repo)
	if autostart {
		if err := eng.Start(ctx); err != nil {
			return err
		}
	}

	srv := server.New(cfg.Server.Addr, eng, repo)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		eng.Stop()
		return err
	case <-ctx.Done():
	}

	observ.Log("shutting_down", nil)
	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (config.Root, error) {
	var cfg config.Root
	if _, err := os.Stat(path); os.IsNotExist(err) {
		observ.Log("config_defaulted", map[string]any{"path": path})
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Root{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Environment beats file for the values that differ between deployments.
func applyEnvOverrides(cfg *config.Root) {
	if v := os.Getenv("SIMTRADER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SIMTRADER_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SIMTRADER_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SIMTRADER_ORACLE_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("SIMTRADER_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("SIMTRADER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Trading.IntervalSeconds = n
		}
	}
}

func openRepository(ctx context.Context, cfg config.Database) (store.Repository, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.DSN)
	case "file":
		return store.NewFile(cfg.StatePath)
	default:
		return store.NewMemory(), nil
	}
}
