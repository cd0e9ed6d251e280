package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snowgoose/snowgoose/internal/providers"
	"github.com/snowgoose/snowgoose/internal/shared/cmdutils"
	"github.com/snowgoose/snowgoose/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show snowgoose status",
	RunE:  runStatus,
}

func mark(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "✓"
	}
	return "✗"
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	fmt.Printf("%s snowgoose Status\n\n", cmdutils.Logo)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(cfgPath))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	dbPath := cfg.DatabasePath()
	fmt.Printf("Database:  %s %s\n", dbPath, mark(dbPath))
	fmt.Printf("Images:    %s %s\n", cfg.ImagesDir(), mark(cfg.ImagesDir()))
	fmt.Printf("Server:    %s\n", cfg.Server.Addr())

	if _, err := os.Stat(dbPath); err == nil {
		if store, err := storage.Open(dbPath); err == nil {
			if models, err := store.ListModels(context.Background()); err == nil {
				fmt.Printf("Models:    %d\n", len(models))
			}
			_ = store.Close()
		}
	}

	fmt.Println("\nVendors:")
	for _, spec := range providers.Vendors {
		creds := cfg.Providers.ByName(spec.Name)
		label := spec.Label()
		switch {
		case creds == nil || creds.APIKey == "":
			fmt.Printf("  %-20s (not set)\n", label)
		case creds.APIBase != "":
			fmt.Printf("  %-20s ✓ %s\n", label, creds.APIBase)
		default:
			fmt.Printf("  %-20s ✓\n", label)
		}
	}
	return nil
}
