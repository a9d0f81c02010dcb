package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
)

var (
	configPath string
	serverURL  string
	sessionID  string
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Multi-step workflow orchestration over specialized workers",
	Long: `Conductor turns a request into a plan of steps, runs the steps on
specialized workers in dependency order, and synthesizes their results.

Plans come from named templates or are generated by the model. Steps whose
dependencies are met run in parallel rounds. Sensitive steps can be gated
behind a human approval queue.

Run 'conductor serve' to start the HTTP API, or 'conductor run <request>'
to execute a single workflow from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .conductor.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL for client commands (default: http://<server.addr>)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "Session id (default: $CONDUCTOR_SESSION or \"cli\")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the --config file if given, else the layered config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// resolveSession returns the session id client commands act for.
func resolveSession() string {
	if sessionID != "" {
		return sessionID
	}
	if env := os.Getenv("CONDUCTOR_SESSION"); env != "" {
		return env
	}
	return "cli"
}

// resolveServerURL returns the API base URL client commands talk to.
func resolveServerURL(cfg *config.Config) string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	return "http://" + cfg.Server.Addr
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("  %s %s\n", c.Sprint(symbol), message)
}
