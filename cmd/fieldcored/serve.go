package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fieldcore/internal/api"
	"fieldcore/internal/blob"
	"fieldcore/internal/engine"
	"fieldcore/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
}

func init() {
	serveCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	}
	serveCmd.Flags().String("listen", "", "listen address (default :8080)")
	serveCmd.Flags().String("storage-driver", "", "storage driver: memory|sqlite|postgres")
	serveCmd.Flags().String("blob-driver", "", "blob driver: fs|s3|memory")
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flag := serveCmd.Flags().Lookup("listen"); flag.Changed {
		cfg.Set(cfgKeyListen, flag.Value.String())
	}
	if flag := serveCmd.Flags().Lookup("storage-driver"); flag.Changed {
		cfg.Set(cfgKeyStorageDriver, flag.Value.String())
	}
	if flag := serveCmd.Flags().Lookup("blob-driver"); flag.Changed {
		cfg.Set(cfgKeyBlobDriver, flag.Value.String())
	}
	if err := exportToEnv(cfg); err != nil {
		return err
	}

	log := newLogger(cfg.GetString(cfgKeyLogLevel))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meta, err := engine.OpenMetadataStore(ctx)
	if err != nil {
		return err
	}
	set, err := engine.OpenRecordSet(ctx)
	if err != nil {
		_ = meta.Close()
		return err
	}
	store, err := blob.Open(ctx)
	if err != nil {
		_ = meta.Close()
		_ = set.Close()
		return err
	}
	svc := engine.New(meta, set, blob.NewPayloads(store), log)
	defer func() { _ = svc.Close() }()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api.AccessLog(log, api.New(svc, log)))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	server := &http.Server{
		Addr:              cfg.GetString(cfgKeyListen),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grace := time.Duration(cfg.GetInt(cfgKeyShutdownGraceSecs)) * time.Second
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("server listening", "addr", server.Addr,
			"storage_driver", os.Getenv("FIELDCORE_STORAGE_DRIVER"),
			"blob_driver", os.Getenv("FIELDCORE_BLOB_DRIVER"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "grace", grace.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
