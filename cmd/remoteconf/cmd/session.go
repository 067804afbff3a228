// Copyright © 2018 One Concern

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/oneconcern/remoteconf/pkg/confdoc"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/mutator"
)

var errNoConfig = errors.New("no configuration loaded")

func newSession() (*mutator.Session, error) {
	if remoteconfConfig == nil {
		return nil, errNoConfig
	}
	return remoteconfConfig.NewSession(logger)
}

func parseOverrides() (*confdoc.Overrides, error) {
	if len(remoteconfFlags.doc.overrides) == 0 {
		return nil, confdoc.ErrInvalidOverride.Wrapf("at least one --set key=value is required")
	}
	return confdoc.ParsePairs(remoteconfFlags.doc.overrides)
}

// fatalOnPush exits with a dedicated code when the remote file may be corrupted
func fatalOnPush(msg string, err error) {
	if errors.Is(err, mutator.ErrPushIndeterminate) {
		wrapFatalWithCodef(exitIndeterminate, "%s: %v (manual intervention required)", msg, err)
		return
	}
	wrapFatalln(msg, err)
}

var (
	addedColor   = color.New(color.FgGreen)
	removedColor = color.New(color.FgRed)
	hunkColor    = color.New(color.FgCyan)
)

func printDiff(w io.Writer, diff string) {
	if diff == "" {
		_, _ = fmt.Fprintln(w, "no change")
		return
	}
	scanner := bufio.NewScanner(strings.NewReader(diff))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			_, _ = fmt.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			_, _ = addedColor.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			_, _ = removedColor.Fprintln(w, line)
		case strings.HasPrefix(line, "@@"):
			_, _ = hunkColor.Fprintln(w, line)
		default:
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func printChanges(w io.Writer, changes []confdoc.Change) {
	for _, c := range changes {
		switch {
		case !c.Existed:
			_, _ = fmt.Fprintf(w, "added %s=%s\n", c.Name, c.New)
		case !c.Exists:
			_, _ = fmt.Fprintf(w, "removed %s\n", c.Name)
		default:
			_, _ = fmt.Fprintf(w, "changed %s: %s -> %s\n", c.Name, c.Old, c.New)
		}
	}
}
