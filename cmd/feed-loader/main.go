package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	sglog "scanguard/internal/log"
	"scanguard/internal/server"
	"scanguard/internal/threat"
)

var (
	dbPath     string
	files      []string
	useURLhaus bool
	urlhausURL string
	timeout    time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "feed-loader",
	Short:        "Load threat indicators into the scanguard indicator database",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&dbPath, "db", server.DefaultConfig().IndicatorDB, "indicator SQLite database")
	f.StringSliceVar(&files, "file", nil, "hosts or URL list to import (repeatable)")
	f.BoolVar(&useURLhaus, "urlhaus", false, "download the URLhaus hostfile")
	f.StringVar(&urlhausURL, "urlhaus-url", threat.DefaultURLhausHostfile, "URLhaus hostfile location")
	f.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := sglog.New(os.Stderr, level, false)
	slog.SetDefault(logger)

	if len(files) == 0 && !useURLhaus {
		return fmt.Errorf("nothing to load: pass --file or --urlhaus")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	store, err := threat.OpenSQLite(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	controller := threat.NewETLController(store, logger)
	for _, p := range files {
		controller.Register(threat.NewFileFetcher(p, filepath.Base(p)))
	}
	if useURLhaus {
		controller.Register(threat.NewURLhausFetcher(urlhausURL, &http.Client{Timeout: timeout}))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	n, err := controller.Run(ctx)
	if err != nil {
		slog.Error("etl run failed", "err", err)
	}
	all, lerr := store.Indicators(context.Background())
	if lerr == nil {
		slog.Info("indicator database updated", "stored", n, "total", len(all), "db", dbPath)
	}
	return err
}
