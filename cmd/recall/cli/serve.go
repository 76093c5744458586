package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/httpapi"
)

var (
	listenAddr     string
	allowAnyOrigin bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		env, err := setup(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer env.Close()

		addr := env.cfg.ListenAddr
		if cmd.Flags().Changed("listen") {
			addr = listenAddr
		}

		api := httpapi.New(httpapi.Options{
			Agent:          env.runner.Agent,
			Memories:       env.runner.Retriever,
			Guard:          env.runner.Guard,
			Observer:       env.obs,
			Metrics:        env.runner.Metrics,
			DefaultOwner:   env.cfg.Owner,
			AllowAnyOrigin: allowAnyOrigin,
		})
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			env.obs.Log().Info().Str("addr", addr).Msg("recall listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		env.obs.Log().Info().Msg("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), env.cfg.ShutdownTimeout)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Listen address")
	serveCmd.Flags().BoolVar(&allowAnyOrigin, "allow-any-origin", false, "Accept WebSocket upgrades from any origin")
	RootCmd.AddCommand(serveCmd)
}
