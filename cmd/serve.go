package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brogergvhs/mangacache/internal/api"
	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/spf13/cobra"
)

var flagAPIAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cache, queue and proxy state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{
			CacheRoot: flagCacheRoot,
			APIAddr:   flagAPIAddr,
		})
		if err != nil {
			return err
		}
		defer closeApp()

		ctx, cancel := util.InterruptContext(context.Background())
		defer cancel()

		a.Start(ctx)

		srv := &http.Server{
			Addr:              a.Config.APIAddr,
			Handler:           api.NewServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			a.Log.Infof("listening on http://%s", srv.Addr)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAPIAddr, "addr", "", "listen address, e.g. 127.0.0.1:8089")
	serveCmd.Flags().StringVar(&flagCacheRoot, "cache-root", "", "cache directory")
	rootCmd.AddCommand(serveCmd)
}
