// Command authkernel runs the authentication service and its maintenance
// tasks.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/config"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
)

type globals struct {
	configFile string
	envFile    string
}

func main() {
	g := &globals{
		configFile: os.Getenv("CONFIG_FILE"),
		envFile:    ".env",
	}

	root := &cobra.Command{
		Use:           "authkernel",
		Short:         "Authentication, session and tenant isolation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.loadEnvFile()
		},
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", g.configFile, "YAML config file (env CONFIG_FILE)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", g.envFile, "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCmd(g),
		newCheckConfigCmd(g),
		newGenSecretCmd(),
		newMigrateCmd(g),
		newPurgeAuditCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadEnvFile applies the dotenv file without overriding variables that are
// already set. A missing default file is not an error.
func (g *globals) loadEnvFile() error {
	if g.envFile == "" {
		return nil
	}
	err := godotenv.Load(g.envFile)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", g.envFile, err)
}

func (g *globals) settings() (*config.Settings, error) {
	return config.Load(g.configFile)
}

func newLogger(s *config.Settings) *zap.Logger {
	return logger.New(logger.Config{
		Env:         s.LoggerEnv(),
		Level:       s.LogLevel,
		ServiceName: "authkernel",
	})
}
