package main

import (
	"github.com/joho/godotenv"
	"github.com/ossettyres/tyre-api/internal/config"
	"github.com/ossettyres/tyre-api/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "tyre-api",
		Short:         "Vehicle lookup and enquiry backend for the tyre shop website",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newLookupCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

// load reads the env file when present, then the config, and sets up logging.
func (o *rootOptions) load() (*config.Config, error) {
	if o.envFile != "" {
		// Load env if it exists
		_ = godotenv.Load(o.envFile)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	logging.Setup(cfg.Logging.Level, cfg.Server.Environment)

	return cfg, nil
}
