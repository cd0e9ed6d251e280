package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/snowgoose/snowgoose/internal/mcp"
	"github.com/snowgoose/snowgoose/internal/shared/cmdutils"
	"github.com/snowgoose/snowgoose/internal/shared/stringutils"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Manage MCP tool servers",
}

func init() {
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsAddCmd)
	toolsCmd.AddCommand(toolsInspectCmd)
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tool servers",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		tools, err := store.ListTools(context.Background())
		if err != nil {
			return err
		}
		if len(tools) == 0 {
			fmt.Println("No tool servers.")
			return nil
		}
		rows := make([][]string, 0, len(tools))
		for _, t := range tools {
			rows = append(rows, []string{strconv.FormatInt(t.ID, 10), t.Name, t.Path})
		}
		cmdutils.Table(os.Stdout, []string{"ID", "Name", "Path"}, rows)
		return nil
	},
}

var toolsAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a tool server script (.js, .py or executable)",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.CreateTool(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Added tool server %s (id %d)\n", t.Name, t.ID)
		return nil
	},
}

var toolsInspectTimeout time.Duration

var toolsInspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Start a tool server and list what it offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tool id %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), toolsInspectTimeout)
		defer cancel()

		tool, err := store.FindToolByID(ctx, id)
		if err != nil {
			return err
		}

		bridge := mcp.NewBridge(mcp.Dial)
		defer bridge.DisconnectAll()

		defs, err := bridge.ListTools(ctx, *tool)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %d tools\n", cmdutils.Logo, tool.Name, len(defs))
		for _, d := range defs {
			fmt.Printf("  %-24s %s\n", d.Name, stringutils.Truncate(d.Description, 60))
		}

		// Resources and prompts are optional capabilities.
		if res, err := bridge.ListResources(ctx, *tool); err == nil && len(res) > 0 {
			fmt.Printf("\nResources:\n")
			for _, r := range res {
				fmt.Printf("  %-24s %s\n", r.Name, r.URI)
			}
		}
		if prompts, err := bridge.ListPrompts(ctx, *tool); err == nil && len(prompts) > 0 {
			fmt.Printf("\nPrompts:\n")
			for _, p := range prompts {
				fmt.Printf("  %-24s %s\n", p.Name, stringutils.Truncate(p.Description, 60))
			}
		}
		return nil
	},
}

func init() {
	toolsInspectCmd.Flags().DurationVar(&toolsInspectTimeout, "timeout", 30*time.Second, "Time allowed for the server to start and answer")
}
