// Command knjiznica runs the library circulation server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/knjiznica/internal/config"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db":   "database_path",
	"addr": "server_addr",
	"log":  "log_path",
	"user": "admin_username",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "knjiznica",
		Short:         "Library circulation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML config file (default: $"+config.ConfigFileEnv+")")
	root.PersistentFlags().StringP("db", "d", "", "SQLite database path (default: knjiznica.db)")
	root.PersistentFlags().StringP("log", "l", "", "log file path (default: stdout/stderr only)")

	root.AddCommand(newInitCmd(), newServeCmd())
	return root
}

// loadConfig loads configuration, letting explicitly set flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := make(map[string]any)
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}

	path, _ := cmd.Flags().GetString("config")
	return config.Load(path, overrides)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
