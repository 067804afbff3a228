// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/oneconcern/remoteconf/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "remoteconf",
	Short: "remoteconf mutates configuration files on remote hosts, and restores them",
	Long: `remoteconf applies key/value overrides to Hadoop-style XML configuration files on a remote host,
then restores their original content byte for byte.

The first mutation of a file records a local backup. Later mutations keep that backup,
so that "restore" always brings back the content found before the first change.

The remote host is reached over SSH/SFTP, or through an HTTP helper service running on the host.
`,
	SilenceUsage: true,
}

var (
	remoteconfConfig *config.Config
	logger           *zap.Logger
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	log.SetFlags(0)

	addConfigFlag(rootCmd)
	addLogLevelFlag(rootCmd)
	addTransportFlag(rootCmd)
	addLocalRootFlag(rootCmd)
	addScratchDirFlag(rootCmd)

	cobra.OnInitialize(initConfig)
}

// persistent flags taking precedence over the config file and environment
var flagKeys = map[string]string{
	"transport":  "transport",
	"local-root": "local.root",
	"scratch":    "scratch.dir",
	"loglevel":   "log.level",
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	v := config.New(remoteconfFlags.root.config)
	for flag, key := range flagKeys {
		if f := rootCmd.PersistentFlags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	var err error
	remoteconfConfig, err = config.Load(v)
	if err != nil {
		wrapFatalln("failed to load configuration", err)
		return
	}

	logger, err = remoteconfConfig.Logger()
	if err != nil {
		wrapFatalln("failed to set up logging", err)
		return
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", zap.String("file", used))
	}
}
