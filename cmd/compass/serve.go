package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	defaults := viper.GetViper()
	command.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	command.Flags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	command.Flags().StringSlice("allowed-origin", nil, "CORS origins allowed to call the API (default any)")
	if err := viper.BindPFlag("http.address", command.Flags().Lookup("http-address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("auth.signing_secret", command.Flags().Lookup("signing-secret")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("http.allowed_origins", command.Flags().Lookup("allowed-origin")); err != nil {
		panic(err)
	}
	return command
}

func runServer(ctx context.Context) error {
	appConfig, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	tokens, err := app.tokenIssuer()
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokens,
		Predictions:    app.predictions,
		Digests:        app.composer,
		Consents:       app.consents,
		AllowedOrigins: appConfig.HTTP.AllowedOrigins,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", appConfig.HTTP.Address))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
