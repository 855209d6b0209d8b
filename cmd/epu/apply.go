package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/luispineda/epu/pkg/rpc"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a domain or domain definition from a YAML manifest",
	Long: `apply reads a YAML manifest describing one EPU Management resource
and creates or updates it against a running node's rpc listener.

Examples:
  # Register a reusable domain definition
  epu apply -f fixed-size-workers.yaml

  # Add a domain against an existing definition
  epu apply -f workers.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("addr", "127.0.0.1:7100", "rpc address of the node to apply against")
	applyCmd.Flags().Bool("insecure", false, "skip mTLS on the rpc client (tests/local only)")
	applyCmd.Flags().String("as", "admin", "caller identity to apply as")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// manifest is a generic EPU Management resource, modeled after a
// Kubernetes-style apiVersion/kind/metadata/spec envelope.
type manifest struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   manifestMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type manifestMetadata struct {
	Name string `yaml:"name"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	addr, _ := cmd.Flags().GetString("addr")
	insecure, _ := cmd.Flags().GetBool("insecure")
	caller, _ := cmd.Flags().GetString("as")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	client, err := newRPCClient(insecure, "cli", caller, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	ctx := context.Background()
	switch m.Kind {
	case "DomainDefinition":
		return applyDomainDefinition(ctx, client, &m)
	case "Domain":
		return applyDomain(ctx, client, &m)
	default:
		return fmt.Errorf("unsupported resource kind: %s", m.Kind)
	}
}

func applyDomainDefinition(ctx context.Context, client *rpc.Client, m *manifest) error {
	name := m.Metadata.Name
	if name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	_, err := client.Call(ctx, "epum", "add_domain_definition", map[string]any{
		"definition_id":     name,
		"document_template": getString(m.Spec, "documentTemplate", ""),
		"engine_class":      getString(m.Spec, "engineClass", ""),
		"engine_conf":       getMap(m.Spec, "engineConf"),
		"health_conf":       getMap(m.Spec, "healthConf"),
	})
	if err != nil {
		return fmt.Errorf("apply domain definition %s: %w", name, err)
	}
	fmt.Printf("domain definition applied: %s\n", name)
	return nil
}

func applyDomain(ctx context.Context, client *rpc.Client, m *manifest) error {
	name := m.Metadata.Name
	if name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	definitionID := getString(m.Spec, "definitionId", "")
	if definitionID == "" {
		return fmt.Errorf("spec.definitionId is required")
	}

	_, err := client.Call(ctx, "epum", "describe_domain", map[string]any{"domain_id": name})
	if err == nil {
		fmt.Printf("updating domain: %s\n", name)
		_, err := client.Call(ctx, "epum", "reconfigure_domain", map[string]any{
			"domain_id": name,
			"config":    getMap(m.Spec, "config"),
		})
		if err != nil {
			return fmt.Errorf("reconfigure domain %s: %w", name, err)
		}
		fmt.Printf("domain reconfigured: %s\n", name)
		return nil
	}

	fmt.Printf("creating domain: %s\n", name)
	_, err = client.Call(ctx, "epum", "add_domain", map[string]any{
		"domain_id":     name,
		"definition_id": definitionID,
		"config":        getMap(m.Spec, "config"),
	})
	if err != nil {
		return fmt.Errorf("create domain %s: %w", name, err)
	}
	fmt.Printf("domain created: %s\n", name)
	return nil
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getMap(m map[string]interface{}, key string) map[string]any {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return map[string]any{}
}
