// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"

	"github.com/oneconcern/remoteconf/pkg/confdoc"
	"github.com/oneconcern/remoteconf/pkg/mutator"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply overrides to a remote configuration document",
	Long: `Fetch a remote configuration document, back it up on the first mutation, rewrite it
with the overrides and push it back.

Entries named by an override are removed, then one entry per override is appended.

Example:
	remoteconf apply --path /usr/local/lens/server/conf/lens-site.xml \
		--set lens.server.session.timeout.seconds=60 --restart "lens-ctl restart"
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		overrides, err := parseOverrides()
		if err != nil {
			wrapFatalln("invalid overrides", err)
			return
		}
		session, err := newSession()
		if err != nil {
			wrapFatalln("failed to initialize session", err)
			return
		}
		remotePath := remoteconfFlags.doc.path

		if remoteconfFlags.apply.dryRun {
			showDiff(ctx, cmd, session, remotePath, overrides)
			return
		}

		var opts []mutator.ApplyOption
		if remoteconfFlags.doc.backupName != "" {
			opts = append(opts, mutator.BackupName(remoteconfFlags.doc.backupName))
		}

		if remoteconfFlags.apply.restart == "" {
			if err = session.Apply(ctx, remotePath, overrides, opts...); err != nil {
				fatalOnPush("failed to apply overrides to "+remotePath, err)
				return
			}
		} else {
			out, err := session.ApplyAndRestart(ctx, remotePath, overrides, remoteconfFlags.apply.restart, opts...)
			if err != nil {
				fatalOnPush("failed to apply overrides and restart", err)
				return
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied %d override(s) to %s\n", overrides.Len(), remotePath)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show the changes overrides would make to a remote configuration document",
	Run: func(cmd *cobra.Command, args []string) {
		overrides, err := parseOverrides()
		if err != nil {
			wrapFatalln("invalid overrides", err)
			return
		}
		session, err := newSession()
		if err != nil {
			wrapFatalln("failed to initialize session", err)
			return
		}
		showDiff(context.Background(), cmd, session, remoteconfFlags.doc.path, overrides)
	},
}

func showDiff(ctx context.Context, cmd *cobra.Command, session *mutator.Session, remotePath string, overrides *confdoc.Overrides) {
	before, after, err := session.Preview(ctx, remotePath, overrides)
	if err != nil {
		wrapFatalln("failed to preview "+remotePath, err)
		return
	}
	diff, err := confdoc.Diff("a"+remotePath, "b"+remotePath, before, after)
	if err != nil {
		wrapFatalln("failed to compute diff", err)
		return
	}
	printDiff(cmd.OutOrStdout(), diff)

	from, err := confdoc.Parse(before)
	if err != nil {
		wrapFatalln("failed to parse "+remotePath, err)
		return
	}
	to, err := confdoc.Parse(after)
	if err != nil {
		wrapFatalln("failed to parse rewritten "+remotePath, err)
		return
	}
	printChanges(cmd.OutOrStdout(), confdoc.Changes(from, to))
}

func init() {
	requireFlags(applyCmd,
		addPathFlag(applyCmd),
		addSetFlag(applyCmd),
	)
	addBackupNameFlag(applyCmd)
	addRestartFlag(applyCmd)
	addDryRunFlag(applyCmd)

	requireFlags(diffCmd,
		addPathFlag(diffCmd),
		addSetFlag(diffCmd),
	)

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(diffCmd)
}
