package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snowgoose/snowgoose/internal/config"
	"github.com/snowgoose/snowgoose/internal/providers"
	"github.com/snowgoose/snowgoose/internal/schema"
	"github.com/snowgoose/snowgoose/internal/shared/cmdutils"
	"github.com/snowgoose/snowgoose/internal/storage"
)

var initSeed bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration, database and a local user",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initSeed, "seed", false, "Add a starter model catalog when the database has no models")
}

// starterModels is the catalog added by `init --seed`. Prices are USD per
// million tokens.
var starterModels = []struct {
	vendor string
	model  schema.ModelRecord
}{
	{"openai", schema.ModelRecord{APIName: "gpt-4o", Name: "GPT-4o", IsVision: true, InputTokenCost: 2.5, OutputTokenCost: 10}},
	{"openai", schema.ModelRecord{APIName: "o3", Name: "o3", IsThinking: true, InputTokenCost: 2, OutputTokenCost: 8}},
	{"openai", schema.ModelRecord{APIName: "dall-e-3", Name: "DALL-E 3", IsImageGeneration: true}},
	{"anthropic", schema.ModelRecord{APIName: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", IsVision: true, IsThinking: true, InputTokenCost: 3, OutputTokenCost: 15}},
	{"google", schema.ModelRecord{APIName: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", IsVision: true, IsThinking: true, InputTokenCost: 0.3, OutputTokenCost: 2.5}},
	{"openrouter", schema.ModelRecord{APIName: "deepseek/deepseek-r1", Name: "DeepSeek R1", IsThinking: true, InputTokenCost: 0.55, OutputTokenCost: 2.19}},
}

func runInit(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		existing, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			return loadErr
		}
		cfg = existing
		fmt.Printf("✓ Config exists at %s\n", cfgPath)
	} else {
		def := config.DefaultConfig()
		cfg = &def
	}

	if err := os.MkdirAll(cfg.ImagesDir(), 0o755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	fmt.Printf("✓ Images at %s\n", cfg.ImagesDir())

	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Printf("✓ Database at %s\n", cfg.DatabasePath())

	ctx := context.Background()
	for _, spec := range providers.Vendors {
		if _, err := store.UpsertVendor(ctx, spec.Name); err != nil {
			return err
		}
	}

	if cfg.Defaults.UserID == "" {
		u, err := store.CreateUser(ctx, "local@snowgoose")
		if err != nil {
			return err
		}
		cfg.Defaults.UserID = u.ID
		fmt.Printf("✓ Created local user %s\n", u.ID)
	}

	if initSeed {
		n, err := seedModels(ctx, store)
		if err != nil {
			return err
		}
		if n > 0 {
			fmt.Printf("✓ Added %d starter models\n", n)
		}
	}

	if err := config.Save(cfg, cfgPath); err != nil {
		return err
	}
	fmt.Printf("✓ Config saved at %s\n", cfgPath)

	fmt.Printf("\n%s snowgoose is ready!\n\n", cmdutils.Logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Add vendor API keys to %s (or export OPENAI_API_KEY etc.)\n", cfgPath)
	fmt.Println("  2. List models: snowgoose models list")
	fmt.Println("  3. Chat: snowgoose chat --model 1 -m \"Hello!\"")
	return nil
}

// seedModels adds starterModels when the catalog is empty and returns how
// many were added.
func seedModels(ctx context.Context, store *storage.Store) (int, error) {
	existing, err := store.ListModels(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for _, s := range starterModels {
		v, err := store.FindVendorByName(ctx, s.vendor)
		if err != nil {
			return 0, err
		}
		m := s.model
		m.APIVendorID = v.ID
		if err := store.CreateModel(ctx, &m); err != nil {
			return 0, err
		}
	}
	return len(starterModels), nil
}
