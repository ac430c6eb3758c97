// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/echa/config"
	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0"
	commit  = "dev"
)

var (
	cfgFile string
	verbose bool
)

func UserAgent() string {
	return fmt.Sprintf("tzcore/%s.%s", version, commit)
}

var rootCmd = &cobra.Command{
	Use:   "tzcore",
	Short: "Proof-of-stake protocol core and RPC proxy",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tzcore %s (%s) %s %s/%s\n",
			version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the filtering RPC proxy with the local rights endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.json", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	config.SetEnvPrefix("TZCORE")
	config.SetConfigName(cfgFile)
	if err := config.ReadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "no config file loaded: %v\n", err)
	}
	initLogging()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
