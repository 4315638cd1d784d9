package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Protocol-Lattice/fingpt-relay/src/config"
	"github.com/Protocol-Lattice/fingpt-relay/src/logging"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:          "fingpt",
		Short:        "Relay Telegram messages to a finance assistant model",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.BindEnv(v)
			if err := config.LoadDotEnv(v.GetString("env_file")); err != nil {
				return err
			}
			return config.ReadFile(v, v.GetString("config"))
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file path (optional).")
	pf.String("env-file", ".env", "Dotenv file loaded before reading the environment.")
	pf.String("provider", "", "AI backend: gemini|openai|anthropic|ollama|dummy.")
	pf.String("model", "", "Model identifier for the selected backend.")
	pf.String("log-level", "", "Logging level: debug|info|warn|error.")
	pf.String("log-format", "", "Logging format: text|json.")
	pf.Bool("log-add-source", false, "Include source file:line in logs.")

	_ = v.BindPFlag("config", pf.Lookup("config"))
	_ = v.BindPFlag("env_file", pf.Lookup("env-file"))
	_ = v.BindPFlag("backend.provider", pf.Lookup("provider"))
	_ = v.BindPFlag("backend.model", pf.Lookup("model"))
	_ = v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = v.BindPFlag("logging.add_source", pf.Lookup("log-add-source"))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newAskCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig decodes v and installs the logger it describes as the default.
func loadConfig(v *viper.Viper) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
