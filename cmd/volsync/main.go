// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/volsync/cmd/volsync/cmd"
)

func main() {
	cmd.Execute()
}
