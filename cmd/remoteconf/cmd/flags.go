// Copyright © 2018 One Concern

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type flagsT struct {
	root struct {
		config     string
		logLevel   string
		transport  string
		localRoot  string
		scratchDir string
	}
	doc struct {
		path       string
		overrides  []string
		backupName string
		key        string
	}
	apply struct {
		restart string
		dryRun  bool
	}
	restore struct {
		all bool
	}
}

var remoteconfFlags = flagsT{}

func addConfigFlag(cmd *cobra.Command) string {
	config := "config"
	cmd.PersistentFlags().StringVar(&remoteconfFlags.root.config, config, "",
		"Config file (default: $REMOTECONF_CONFIG, or remoteconf.{yaml,properties} in ., $HOME/.remoteconf, /etc/remoteconf)")
	return config
}

func addLogLevelFlag(cmd *cobra.Command) string {
	logLevel := "loglevel"
	cmd.PersistentFlags().StringVar(&remoteconfFlags.root.logLevel, logLevel, "", "The logging level: debug, info, warn, error or none")
	return logLevel
}

func addTransportFlag(cmd *cobra.Command) string {
	transport := "transport"
	cmd.PersistentFlags().StringVar(&remoteconfFlags.root.transport, transport, "", "The transport reaching the remote host: sftp, service or local")
	return transport
}

func addLocalRootFlag(cmd *cobra.Command) string {
	localRoot := "local-root"
	cmd.PersistentFlags().StringVar(&remoteconfFlags.root.localRoot, localRoot, "", "The directory standing in for the remote host, with the local transport")
	return localRoot
}

func addScratchDirFlag(cmd *cobra.Command) string {
	scratch := "scratch"
	cmd.PersistentFlags().StringVar(&remoteconfFlags.root.scratchDir, scratch, "", "The local directory holding working copies and backups")
	return scratch
}

func addPathFlag(cmd *cobra.Command) string {
	path := "path"
	cmd.Flags().StringVar(&remoteconfFlags.doc.path, path, "", "The path of the configuration document on the remote host")
	return path
}

func addSetFlag(cmd *cobra.Command) string {
	set := "set"
	cmd.Flags().StringArrayVar(&remoteconfFlags.doc.overrides, set, nil, "An override, as key=value. May be repeated")
	return set
}

func addBackupNameFlag(cmd *cobra.Command) string {
	backupName := "backup-name"
	cmd.Flags().StringVar(&remoteconfFlags.doc.backupName, backupName, "", "The local file name of the backup (default: backup-<file name>)")
	return backupName
}

func addKeyFlag(cmd *cobra.Command) string {
	key := "key"
	cmd.Flags().StringVar(&remoteconfFlags.doc.key, key, "", "Only show the value of this key")
	return key
}

func addRestartFlag(cmd *cobra.Command) string {
	restart := "restart"
	cmd.Flags().StringVar(&remoteconfFlags.apply.restart, restart, "", "A command run on the remote host once the document is pushed")
	return restart
}

func addDryRunFlag(cmd *cobra.Command) string {
	dryRun := "dry-run"
	cmd.Flags().BoolVar(&remoteconfFlags.apply.dryRun, dryRun, false, "Show the changes without pushing them")
	return dryRun
}

func addAllFlag(cmd *cobra.Command) string {
	all := "all"
	cmd.Flags().BoolVar(&remoteconfFlags.restore.all, all, false, "Restore every document with a recorded backup")
	return all
}

func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		err := cmd.MarkFlagRequired(flag)
		if err != nil {
			err = cmd.MarkPersistentFlagRequired(flag)
		}
		if err != nil {
			wrapFatalln(fmt.Sprintf("error attempting to mark the required flag %q", flag), err)
			return
		}
	}
}
