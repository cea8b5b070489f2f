package cmd

import (
	"github.com/oneconcern/volsync/pkg/api"
	"github.com/oneconcern/volsync/pkg/httpd"
	"github.com/oneconcern/volsync/pkg/identity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve volumes over HTTP",
	Long: `Serve the volumes found under the data root over HTTP.

Callers authenticate with basic auth, against the users declared in the configuration.
`,
	Run: func(cmd *cobra.Command, args []string) {
		l, err := config.logger()
		if err != nil {
			wrapFatalln("failed to initialize logger", err)
			return
		}
		defer func() { _ = l.Sync() }()

		if len(config.Users) == 0 {
			l.Warn("no users configured: all requests will be rejected")
		}

		manager := newManager(config, l)
		srv, err := api.NewServer(api.ServerParams{
			Version:       NewVersionInfo().Version,
			MaxUploadSize: config.API.MaxUploadSize,
			Identity:      identity.NewStatic(config.Users),
			Volumes:       manager,
			Logger:        l,
		})
		if err != nil {
			wrapFatalln("failed to initialize API", err)
			return
		}

		server, err := httpd.New(
			httpd.LogsWith(l),
			httpd.HandlesRequestsWith(api.InitRouter(srv)),
			httpd.OnShutdown(func() {
				if err := manager.Close(); err != nil {
					l.Warn("closing volumes", zap.Error(err))
				}
			}),
		)
		if err != nil {
			wrapFatalln("failed to initialize server", err)
			return
		}

		if err := server.Listen(); err != nil {
			wrapFatalln("failed to listen", err)
			return
		}
		l.Info("serving volumes", zap.String("dataRoot", config.DataRoot))
		if err := server.Serve(); err != nil {
			wrapFatalln("server stopped", err)
		}
	},
}

func init() {
	httpd.RegisterFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}
