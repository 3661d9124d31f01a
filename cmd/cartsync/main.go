package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cartsync/internal/config"
	"cartsync/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Set up in PersistentPreRunE
	cfg    *config.Config
	logs   *logging.Set
	logger *zap.Logger
)

// skipConfig marks commands that must work without a valid settings file.
const skipConfig = "skip-config"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cartsync",
	Short: "Sync Notion reading-list tasks into a shopping cart",
	Long: `cartsync polls a Notion database for tasks marked as waiting for the
cart, opens each product page in Chrome, adds it to the cart and marks the
task as added.

Settings live in ~/.cartsync/config.yaml. Run "cartsync config init" to
create one, then "cartsync check" to verify the Notion connection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			logs = logging.NewNop()
			logger = logs.Root()
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logs, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logger = logs.Get(logging.CategoryBoot)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Settings file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Timeout for one-shot commands")

	configInitCmd.Flags().Bool("force", false, "Overwrite an existing settings file")
	configShowCmd.Flags().Bool("reveal", false, "Print the Notion token unmasked")
	ledgerClearCmd.Flags().Bool("yes", false, "Do not ask for confirmation")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerRemoveCmd)
	ledgerCmd.AddCommand(ledgerClearCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
