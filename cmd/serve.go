package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snowgoose/snowgoose/internal/dependency"
	"github.com/snowgoose/snowgoose/internal/shared/cmdutils"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the snowgoose HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	container, err := dependency.NewServiceContainer(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	configured := container.Factory().Configured()
	if len(configured) == 0 {
		fmt.Printf("Warning: no vendor API keys configured, edit %s\n", resolvedConfigPath())
	} else {
		fmt.Printf("✓ Vendors configured: %v\n", configured)
	}

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return container.Server().ListenAndServe(gctx, cfg.Server.Addr()) })
	g.Go(func() error { return container.Renewal().Start(gctx) })

	fmt.Printf("%s Serving on %s (images at %s). Press Ctrl+C to stop.\n",
		cmdutils.Logo, cfg.Server.Addr(), cfg.ImagesBaseURL())
	fmt.Printf("  usage renewal: %s, next at %s\n", cfg.Usage.RenewalSchedule,
		container.Renewal().Next(time.Now()).Format("2006-01-02 15:04 MST"))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
