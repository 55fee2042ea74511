package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "qaforge",
	Short: "Generate Q&A fine-tuning datasets with LLMs",
	Long:  "Cleans documents and web pages, generates labeled question and answer pairs with pooled LLM API keys, fills knowledge gaps with cross-validated synthetic pairs, and stores every run.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
