// Copyright © 2018 One Concern

package cmd

import (
	"github.com/spf13/cobra"
)

type flagsT struct {
	root struct {
		dataRoot string
		logLevel string
	}
	volume struct {
		owner    string
		name     string
		password string
	}
}

var params = flagsT{}

func addOwnerFlag(cmd *cobra.Command) string {
	const owner = "owner"
	cmd.Flags().StringVar(&params.volume.owner, owner, "", "The account owning the volume")
	return owner
}

func addVolumeNameFlag(cmd *cobra.Command) string {
	const name = "name"
	cmd.Flags().StringVar(&params.volume.name, name, "", "The name of the volume")
	return name
}

func addPasswordFlag(cmd *cobra.Command) string {
	const password = "password"
	cmd.Flags().StringVar(&params.volume.password, password, "", "The password protecting the volume")
	return password
}

func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		_ = cmd.MarkFlagRequired(flag)
	}
}
