package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yegors/RTLSDR-Airband/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-fanout"
)

var (
	version = "1.0.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Live audio fan-out server",
	Long: `audio-fanout takes one live audio stream and sends it to every connected
listener over TCP or WebSocket, as raw float samples or as a streaming WAV.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fan-out server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cfgFile)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s\n", serviceName, version)
	},
}

func init() {
	server.Version = version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
