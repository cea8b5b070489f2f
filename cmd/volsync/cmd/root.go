// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "VOLSYNC"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "volsync",
	Short: "volsync keeps file trees in sync between a server and its clients",
	Long: `volsync serves named volumes to sync clients.

Clients maintain a local mirror of a volume and converge to the server state,
using either a full index diff or the change log of the volume. Every file keeps
its history of revisions, and concurrent edits are kept as conflicted copies.
`,
	SilenceUsage: true,
}

var config *Config

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&params.root.dataRoot, "data-root", "", "the directory holding volumes")
	rootCmd.PersistentFlags().StringVar(&params.root.logLevel, "loglevel", "", "the logging level (debug, info, warn, error, none)")
	_ = viper.BindPFlag("dataRoot", rootCmd.PersistentFlags().Lookup("data-root"))
	_ = viper.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults(viper.GetViper())
	if os.Getenv(envPrefix+"_CONFIG") != "" {
		// Use config file from the environment.
		viper.SetConfigFile(os.Getenv(envPrefix + "_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.volsync")
		viper.AddConfigPath("/etc/volsync")
		viper.SetConfigName("volsync")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}

	var err error
	config, err = newConfig(viper.GetViper())
	if err != nil {
		wrapFatalln("invalid configuration", err)
	}
}
