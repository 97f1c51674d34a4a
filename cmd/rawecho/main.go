package main

import (
	"os"

	"github.com/spf13/cobra"

	rawecho "github.com/McMartinos/qpid-proton"
	"github.com/McMartinos/qpid-proton/proactor"
)

var confPath string

func init() {
	rootCmd.Flags().StringVarP(&confPath, "config", "c", "", "Path to an optional YAML configuration file.")
}

var rootCmd = &cobra.Command{
	Use:   "rawecho [host] [port]",
	Short: "Bounded-concurrency raw TCP echo service.",
	Long: `rawecho listens for raw TCP connections and echoes every byte back to
the sender. At most five connections are served at a time; once no
connection has been active for twenty seconds the service shuts itself
down. Host and port default to all interfaces and the "amqp" service.`,
	Args:         cobra.MaximumNArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := rawecho.NewConfig()
		if confPath != "" {
			loaded, err := rawecho.LoadConfig(confPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		host, port := cfg.Host, cfg.Port
		if len(args) > 0 {
			host = args[0]
		}
		if len(args) > 1 {
			port = args[1]
		}
		cfg.WithAddress(host, port)

		engine, err := proactor.Listen(cfg.Host, cfg.Port, cfg.Backlog)
		if err != nil {
			return err
		}

		srv, err := rawecho.NewServer(engine, cfg)
		if err != nil {
			return err
		}
		return srv.Run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
