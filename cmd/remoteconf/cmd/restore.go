// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Push back the content of remote documents as found before their first mutation",
	Long: `Push back the backup recorded by the first "apply" of a remote document, then forget the backup.

Without a recorded backup, restore does nothing, unless restore.strict is set.
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		remotePath := remoteconfFlags.doc.path
		if remotePath == "" && !remoteconfFlags.restore.all {
			wrapFatalln("one of --path or --all is required", nil)
			return
		}

		session, err := newSession()
		if err != nil {
			wrapFatalln("failed to initialize session", err)
			return
		}

		if remoteconfFlags.restore.all {
			paths := session.Paths()
			if err = session.RestoreAll(ctx); err != nil {
				fatalOnPush("failed to restore documents", err)
				return
			}
			for _, p := range paths {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", p)
			}
			return
		}

		if err = session.Restore(ctx, remotePath); err != nil {
			fatalOnPush("failed to restore "+remotePath, err)
			return
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", remotePath)
	},
}

func init() {
	addPathFlag(restoreCmd)
	addAllFlag(restoreCmd)
	rootCmd.AddCommand(restoreCmd)
}
