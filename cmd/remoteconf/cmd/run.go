// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/oneconcern/remoteconf/pkg/remote"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run -- command [args...]",
	Short: "Run a command on the remote host",
	Long: `Run a command on the remote host, over SSH or through the helper service,
and print its standard output. The exit code of the remote command is propagated.
`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		session, err := newSession()
		if err != nil {
			wrapFatalln("failed to initialize session", err)
			return
		}
		out, err := session.Run(context.Background(), strings.Join(args, " "))
		_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
		if err != nil {
			if code, ok := remote.ExitCode(err); ok {
				wrapFatalWithCodef(code, "%v", err)
				return
			}
			wrapFatalln("failed to run remote command", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
