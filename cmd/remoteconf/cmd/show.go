// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the properties of a remote configuration document",
	Run: func(cmd *cobra.Command, args []string) {
		session, err := newSession()
		if err != nil {
			wrapFatalln("failed to initialize session", err)
			return
		}
		props, err := session.Properties(context.Background(), remoteconfFlags.doc.path)
		if err != nil {
			wrapFatalln("failed to read "+remoteconfFlags.doc.path, err)
			return
		}

		key := remoteconfFlags.doc.key
		found := false
		for _, p := range props {
			if key != "" && p.Name != key {
				continue
			}
			found = true
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", p.Name, p.Value)
		}
		if key != "" && !found {
			wrapFatalln(fmt.Sprintf("no property %q in %s", key, remoteconfFlags.doc.path), nil)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List remote documents with a recorded backup",
	Run: func(cmd *cobra.Command, args []string) {
		session, err := newSession()
		if err != nil {
			wrapFatalln("failed to initialize session", err)
			return
		}
		for _, p := range session.Paths() {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", session.State(p), p)
		}
	},
}

func init() {
	requireFlags(showCmd, addPathFlag(showCmd))
	addKeyFlag(showCmd)

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
}
