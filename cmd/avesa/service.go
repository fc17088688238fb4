package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
)

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "service", Short: "Manage per-tenant service configuration"}
	cmd.AddCommand(newServiceAddCmd())
	return cmd
}

func newServiceAddCmd() *cobra.Command {
	var (
		tenant, service, credentialsRef, endpointsFile string
		endpointOverrides                              []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enable a service for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || service == "" || credentialsRef == "" {
				return exitWith(exitUsageError, fmt.Errorf("--tenant, --service, and --credentials-ref are required"))
			}

			endpoints, err := loadEndpoints(endpointsFile)
			if err != nil {
				return exitWith(exitUsageError, err)
			}
			if err := applyEndpointOverrides(endpoints, endpointOverrides); err != nil {
				return exitWith(exitUsageError, err)
			}

			store, err := statestore.Open(cmd.Context(), cfg.StateStoreEndpoint)
			if err != nil {
				return exitWith(exitStoreUnreachable, fmt.Errorf("connecting to state store: %w", err))
			}
			defer store.Close()

			sc := model.ServiceConfig{
				TenantID:          tenant,
				ServiceName:       service,
				Enabled:           true,
				CredentialsRef:    credentialsRef,
				EndpointOverrides: endpoints,
			}
			if err := store.UpsertServiceConfig(cmd.Context(), sc); err != nil {
				return fmt.Errorf("upserting service config: %w", err)
			}

			fmt.Printf("service %q enabled for tenant %q with %d endpoint(s)\n", service, tenant, len(endpoints))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&service, "service", "", "service name (e.g. connectwise)")
	cmd.Flags().StringVar(&credentialsRef, "credentials-ref", "", "opaque reference the SecretStore resolves to credential material")
	cmd.Flags().StringVar(&endpointsFile, "endpoints-file", "", "YAML file of table_name -> endpoint config (path, canonical_table, page_size, order_by, incremental_field, sync_frequency)")
	cmd.Flags().StringArrayVar(&endpointOverrides, "endpoint-override", nil, "table=true|false, repeatable, toggles one endpoint loaded from --endpoints-file")
	return cmd
}

// loadEndpoints parses an optional YAML endpoints file into the table
// EndpointOverrides map a ServiceConfig carries. A service with no file
// starts with no endpoints enabled; --endpoint-override cannot introduce
// a table that isn't already present.
func loadEndpoints(path string) (map[string]model.EndpointConfig, error) {
	if path == "" {
		return map[string]model.EndpointConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}
	endpoints := map[string]model.EndpointConfig{}
	if err := yaml.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("parsing endpoints file: %w", err)
	}
	return endpoints, nil
}

// applyEndpointOverrides toggles Enabled on entries already present in
// endpoints from "table=true|false" flag values; the value is parsed with
// strconv.ParseBool.
func applyEndpointOverrides(endpoints map[string]model.EndpointConfig, overrides []string) error {
	for _, o := range overrides {
		key, value, ok := strings.Cut(o, "=")
		if !ok {
			return fmt.Errorf("invalid --endpoint-override %q, expected table=true|false", o)
		}
		ep, exists := endpoints[key]
		if !exists {
			return fmt.Errorf("--endpoint-override references unknown table %q", key)
		}
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid --endpoint-override value %q for table %q: %w", value, key, err)
		}
		ep.Enabled = enabled
		endpoints[key] = ep
	}
	return nil
}
