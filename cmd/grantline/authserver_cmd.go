package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthlab/grantline"
	"github.com/oauthlab/grantline/authserver"
	"github.com/oauthlab/grantline/storage"
	"github.com/oauthlab/grantline/storage/memory"
)

func newAuthServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authserver",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthServer()
		},
	}

	flags := cmd.Flags()
	flags.String("auth-listen", ":9001", "listen address")
	flags.String("auth-issuer", "http://localhost:9001", "issuer base URL")
	flags.Duration("auth-token-ttl", authserver.DefaultAccessTokenTTL, "access token lifetime")
	flags.StringSlice("auth-subjects", []string{"alice", "bob"}, "resource owners selectable on the consent page")
	flags.Bool("auth-audit-log", true, "enable security audit logging")
	flags.String("auth-client-id", "oauth-client-1", "bootstrap client ID")
	flags.String("auth-client-secret", "oauth-client-secret-1", "bootstrap client secret")
	flags.StringSlice("auth-client-redirects", []string{"http://localhost:9000/callback"}, "bootstrap client redirect URIs")
	flags.StringSlice("auth-client-scopes", []string{"foo", "bar"}, "bootstrap client scope ceiling")
	bindFlags(flags)

	return cmd
}

func runAuthServer() error {
	logger := newLogger()

	inst, err := newInstrumentation("grantline-authserver")
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := memory.New()
	defer store.Stop()
	store.SetLogger(logger)
	store.SetInstrumentation(inst)

	secretHash, err := bcrypt.GenerateFromPassword([]byte(viper.GetString("auth-client-secret")), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash client secret: %w", err)
	}

	client := &storage.Client{
		ClientID:     viper.GetString("auth-client-id"),
		SecretHash:   string(secretHash),
		RedirectURIs: viper.GetStringSlice("auth-client-redirects"),
		Scopes:       viper.GetStringSlice("auth-client-scopes"),
		CreatedAt:    time.Now(),
	}
	if err := store.SaveClient(context.Background(), client); err != nil {
		return fmt.Errorf("failed to register bootstrap client: %w", err)
	}
	registered, err := store.ListClients(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list registered clients: %w", err)
	}
	for _, c := range registered {
		logger.Info("Registered client",
			"client_id", c.ClientID,
			"scopes", grantline.JoinScope(c.Scopes))
	}

	server, err := authserver.New(store, store, store, &authserver.Config{
		Issuer:         viper.GetString("auth-issuer"),
		AccessTokenTTL: viper.GetDuration("auth-token-ttl"),
		Subjects:       viper.GetStringSlice("auth-subjects"),
		EnableAuditLog: viper.GetBool("auth-audit-log"),
	}, logger)
	if err != nil {
		return err
	}
	server.SetInstrumentation(inst)

	mux := http.NewServeMux()
	authserver.NewHandler(server, logger).Routes(mux)

	return serve(logger, viper.GetString("auth-listen"), mux)
}
