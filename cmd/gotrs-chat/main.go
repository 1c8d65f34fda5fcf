package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-chat/internal/version"
)

var (
	configPathFlag  string
	memoryStoreFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "gotrs-chat",
	Short: "GOTRS live support scheduler",
	Long: `GOTRS Chat routes live support sessions to staff.

It ranks waiting sessions, assigns them to the least loaded agent,
escalates to urgent tickets when nobody is online and keeps customers
connected over WebSocket.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("GOTRS Chat %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", envOr("CONFIG_PATH", "."), "Directory holding config.yaml")
	rootCmd.PersistentFlags().BoolVar(&memoryStoreFlag, "memory", false, "Keep durable state in process memory (development only)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
