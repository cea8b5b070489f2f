package cmd

import (
	"context"

	"github.com/oneconcern/volsync/pkg/model"
	"github.com/spf13/cobra"
)

// volumeCmd represents the volume related commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Commands to manage volumes",
	Long: `Commands to manage the volumes found under the data root.

A volume is protected by a password, which is required to destroy it.
`,
}

var volumeCreate = &cobra.Command{
	Use:   "create",
	Short: "Create a volume",
	Long:  "Create a volume owned by some account. The volume is seeded with a README.md file.",
	Run: func(cmd *cobra.Command, args []string) {
		l, err := config.logger()
		if err != nil {
			wrapFatalln("failed to initialize logger", err)
			return
		}
		manager := newManager(config, l)
		defer func() { _ = manager.Close() }()

		vol, err := manager.Create(context.Background(), model.Contributor{Name: params.volume.owner}, params.volume.name, params.volume.password)
		if err != nil {
			wrapFatalln("failed to create volume", err)
			return
		}
		logStdOut("%s\t%s\n", vol.Name(), vol.ServerRevision())
	},
}

var volumeDestroy = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy a volume",
	Long:  "Destroy a volume irreversibly: all its content and history are removed.",
	Run: func(cmd *cobra.Command, args []string) {
		l, err := config.logger()
		if err != nil {
			wrapFatalln("failed to initialize logger", err)
			return
		}
		manager := newManager(config, l)
		defer func() { _ = manager.Close() }()

		if err := manager.Destroy(context.Background(), params.volume.owner, params.volume.name, params.volume.password); err != nil {
			wrapFatalln("failed to destroy volume", err)
			return
		}
		infoLogger.Printf("volume %q destroyed", params.volume.name)
	},
}

var volumeList = &cobra.Command{
	Use:   "list",
	Short: "List the volumes of an account",
	Run: func(cmd *cobra.Command, args []string) {
		l, err := config.logger()
		if err != nil {
			wrapFatalln("failed to initialize logger", err)
			return
		}
		manager := newManager(config, l)
		defer func() { _ = manager.Close() }()

		names, err := manager.List(context.Background(), params.volume.owner)
		if err != nil {
			wrapFatalln("failed to list volumes", err)
			return
		}
		for _, name := range names {
			logStdOut("%s\n", name)
		}
	},
}

func init() {
	requireFlags(volumeCreate,
		addOwnerFlag(volumeCreate),
		addVolumeNameFlag(volumeCreate),
		addPasswordFlag(volumeCreate),
	)
	requireFlags(volumeDestroy,
		addOwnerFlag(volumeDestroy),
		addVolumeNameFlag(volumeDestroy),
		addPasswordFlag(volumeDestroy),
	)
	requireFlags(volumeList,
		addOwnerFlag(volumeList),
	)

	volumeCmd.AddCommand(volumeCreate, volumeDestroy, volumeList)
	rootCmd.AddCommand(volumeCmd)
}
