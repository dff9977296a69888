package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oauthlab/grantline/resource"
	"github.com/oauthlab/grantline/security"
)

func newResourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Run the protected resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResource()
		},
	}

	flags := cmd.Flags()
	flags.String("resource-listen", ":9002", "listen address")
	flags.String("resource-introspect-url", "http://localhost:9001/introspect", "authorization server introspection endpoint")
	flags.String("resource-realm", resource.DefaultRealm, "realm announced in WWW-Authenticate challenges")
	flags.Bool("resource-audit-log", true, "enable security audit logging")
	bindFlags(flags)

	return cmd
}

func runResource() error {
	logger := newLogger()

	inst, err := newInstrumentation("grantline-resource")
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	introspector := resource.NewIntrospector(
		viper.GetString("resource-introspect-url"),
		resource.WithLogger(logger),
	)

	auditor := security.NewAuditor(logger, viper.GetBool("resource-audit-log"))
	auditor.SetEventHook(func(eventType string) {
		inst.Metrics().RecordAuditEvent(context.Background(), eventType)
	})

	guard := resource.NewGuard(introspector,
		resource.WithRealm(viper.GetString("resource-realm")),
		resource.WithGuardLogger(logger),
		resource.WithAuditor(auditor),
		resource.WithInstrumentation(inst),
	)

	mux := http.NewServeMux()
	resource.NewHandler(guard, nil, logger).Routes(mux)

	return serve(logger, viper.GetString("resource-listen"), mux)
}
