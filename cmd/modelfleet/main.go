package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	srv "github.com/modelfleet/modelfleet/internal/server"
)

var version = "dev"

func main() {
	root := &cobra.Command{Use: "modelfleet"}
	root.AddCommand(serveCMD(), versionCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat orchestration API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = getenv("MODELFLEET_ADDR", "")
			}
			return srv.Run(serveAddr, cfgPath)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.json)")
	return serve
}

func versionCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the modelfleet version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("modelfleet", version)
		},
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
