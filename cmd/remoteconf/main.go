// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/remoteconf/cmd/remoteconf/cmd"
)

func main() {
	cmd.Execute()
}
