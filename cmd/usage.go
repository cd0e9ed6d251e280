package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snowgoose/snowgoose/internal/storage"
	"github.com/snowgoose/snowgoose/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and renew user usage counters",
}

func init() {
	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageResetCmd)
}

var usageShowCmd = &cobra.Command{
	Use:   "show [user-id]",
	Short: "Show a user's period and total usage",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		userID := cfg.Defaults.UserID
		if len(args) == 1 {
			userID = args[0]
		}
		if userID == "" {
			return fmt.Errorf("no user id given and defaults.userId is unset")
		}

		store, err := storage.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := store.FindUser(context.Background(), userID)
		if err != nil {
			return err
		}
		fmt.Printf("User:    %s (%s)\n", u.ID, u.Email)
		fmt.Printf("Period:  $%.6f\n", u.PeriodUsage)
		fmt.Printf("Total:   $%.6f\n", u.TotalUsage)
		return nil
	},
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset every user's period usage now",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()

		loc, err := cfg.Usage.Location()
		if err != nil {
			return err
		}
		s, err := usage.NewRenewalScheduler(store, cfg.Usage.RenewalSchedule, loc)
		if err != nil {
			return err
		}
		s.RunOnce(context.Background())
		fmt.Printf("✓ Period usage reset. Next scheduled reset: %s\n",
			s.Next(time.Now()).Format("2006-01-02 15:04 MST"))
		return nil
	},
}
