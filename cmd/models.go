package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/snowgoose/snowgoose/internal/providers"
	"github.com/snowgoose/snowgoose/internal/schema"
	"github.com/snowgoose/snowgoose/internal/shared/cmdutils"
	"github.com/snowgoose/snowgoose/internal/shared/stringutils"
	"github.com/snowgoose/snowgoose/internal/storage"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model catalog",
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsAddCmd)
}

// openStore opens the configured database.
func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.DatabasePath())
}

// ---- list ------------------------------------------------------------------

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog models",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		models, err := store.ListModels(ctx)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Println("No models. Run `snowgoose init --seed` or `snowgoose models add`.")
			return nil
		}

		rows := make([][]string, 0, len(models))
		for _, m := range models {
			vendor := "-"
			if m.APIVendorID != 0 {
				if v, err := store.FindVendorByID(ctx, m.APIVendorID); err == nil {
					vendor = v.Name
				}
			}
			rows = append(rows, []string{
				strconv.FormatInt(m.ID, 10),
				stringutils.Truncate(m.Name, 24),
				stringutils.Truncate(m.APIName, 32),
				vendor,
				capabilities(m),
				fmt.Sprintf("%g/%g", m.InputTokenCost, m.OutputTokenCost),
			})
		}
		cmdutils.Table(os.Stdout, []string{"ID", "Name", "API name", "Vendor", "Caps", "$/Mtok in/out"}, rows)
		return nil
	},
}

func capabilities(m schema.ModelRecord) string {
	caps := ""
	for _, c := range []struct {
		on   bool
		flag string
	}{
		{m.IsVision, "V"},
		{m.IsThinking, "T"},
		{m.IsImageGeneration, "I"},
		{m.PaidOnly, "$"},
	} {
		if c.on {
			caps += c.flag
		}
	}
	if caps == "" {
		return "-"
	}
	return caps
}

// ---- add -------------------------------------------------------------------

var (
	addVendor     string
	addName       string
	addVision     bool
	addThinking   bool
	addImageGen   bool
	addPaidOnly   bool
	addInputCost  float64
	addOutputCost float64
)

var modelsAddCmd = &cobra.Command{
	Use:   "add <api-name>",
	Short: "Add a model to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		spec := providers.FindByName(addVendor)
		if spec == nil {
			return fmt.Errorf("unknown vendor %q", addVendor)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		v, err := store.UpsertVendor(ctx, spec.Name)
		if err != nil {
			return err
		}

		m := schema.ModelRecord{
			APIName:           args[0],
			Name:              addName,
			APIVendorID:       v.ID,
			IsVision:          addVision,
			IsThinking:        addThinking,
			IsImageGeneration: addImageGen,
			PaidOnly:          addPaidOnly,
			InputTokenCost:    addInputCost,
			OutputTokenCost:   addOutputCost,
		}
		if m.Name == "" {
			m.Name = m.APIName
		}
		if err := store.CreateModel(ctx, &m); err != nil {
			return err
		}
		fmt.Printf("✓ Added model %s (id %d, %s)\n", m.APIName, m.ID, spec.Label())
		return nil
	},
}

func init() {
	f := modelsAddCmd.Flags()
	f.StringVar(&addVendor, "vendor", "", "Vendor: openai, anthropic, google or openrouter")
	f.StringVar(&addName, "name", "", "Display name (default: the API name)")
	f.BoolVar(&addVision, "vision", false, "Accepts image input")
	f.BoolVar(&addThinking, "thinking", false, "Supports thinking")
	f.BoolVar(&addImageGen, "image-generation", false, "Generates images")
	f.BoolVar(&addPaidOnly, "paid-only", false, "Restricted to paid users")
	f.Float64Var(&addInputCost, "input-cost", 0, "USD per million input tokens")
	f.Float64Var(&addOutputCost, "output-cost", 0, "USD per million output tokens")
	_ = modelsAddCmd.MarkFlagRequired("vendor")
}
