package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := openRuntime(context.Background(), cfg, reg)
	if err != nil {
		return err
	}
	defer rt.Close()

	eng := rt.eng
	eng.StartDecayTimer()
	fmt.Fprintf(os.Stderr, "  embedder: %s\n", rt.provider)

	if eng.Embedder != nil && rt.provider != "tfidf" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if n, err := eng.EmbedMissing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "embed missing: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "  embedded %d missing nodes\n", n)
			}
		}()
	}

	counter, err := tokenCounter(cfg.Retrieval)
	if err != nil {
		return err
	}
	srv := server.New(eng, server.Options{
		Version:  VersionString(),
		Registry: reg,
		Counter:  counter,
	})
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "recall serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", rt.dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
