package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oauthlab/grantline/client"
)

func newClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the OAuth client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient()
		},
	}

	flags := cmd.Flags()
	flags.String("client-listen", ":9000", "listen address")
	flags.String("client-id", "oauth-client-1", "client ID")
	flags.String("client-secret", "oauth-client-secret-1", "client secret")
	flags.String("client-auth-url", "http://localhost:9001/authorize", "authorization endpoint")
	flags.String("client-token-url", "http://localhost:9001/token", "token endpoint")
	flags.String("client-redirect-url", "http://localhost:9000/callback", "this client's callback URL")
	flags.StringSlice("client-scopes", []string{"foo", "bar"}, "scopes requested on every flow")
	flags.String("client-resource-url", "http://localhost:9002/resource", "protected resource endpoint")
	flags.String("client-favorites-url", "http://localhost:9002/favorites", "favorites endpoint")
	bindFlags(flags)

	return cmd
}

func runClient() error {
	logger := newLogger()

	inst, err := newInstrumentation("grantline-client")
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	driver := client.New(client.Config{
		ClientID:     viper.GetString("client-id"),
		ClientSecret: viper.GetString("client-secret"),
		AuthURL:      viper.GetString("client-auth-url"),
		TokenURL:     viper.GetString("client-token-url"),
		RedirectURL:  viper.GetString("client-redirect-url"),
		Scopes:       viper.GetStringSlice("client-scopes"),
	}, logger)
	driver.SetInstrumentation(inst)

	handler := client.NewHandler(driver, client.NewSessionStore(), client.HandlerConfig{
		ResourceURL:  viper.GetString("client-resource-url"),
		FavoritesURL: viper.GetString("client-favorites-url"),
	}, logger)

	mux := http.NewServeMux()
	handler.Routes(mux)

	return serve(logger, viper.GetString("client-listen"), mux)
}
