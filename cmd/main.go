package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.od2.network/hive/cmd/providers"
	"go.od2.network/hive/cmd/server"
	"go.uber.org/zap"
)

var rootCmd = cobra.Command{
	Use:   "hive-dispatch",
	Short: "Asynchronous prompt-dispatch service",

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logConfig zap.Config
		if devMode {
			logConfig = zap.NewDevelopmentConfig()
		} else {
			logConfig = zap.NewProductionConfig()
		}
		log, err := logConfig.Build()
		if err != nil {
			panic("failed to build logger: " + err.Error())
		}
		providers.Log = log
	},
}

var devMode bool

func init() {
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.BoolVar(&devMode, "dev", false, "Dev mode")
	rootCmd.AddCommand(&server.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
