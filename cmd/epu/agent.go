package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/ouagent"
	"github.com/luispineda/epu/pkg/rpc"
	"github.com/luispineda/epu/pkg/security"
	"github.com/luispineda/epu/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the OU Agent on a provisioned node",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll this node's processes and heartbeat them to its Controller",
	Long: `agent run is what a node's cloud-init/bootstrap script execs after
the OU package is installed: it polls process state through a Supervisor
(containerd or gopsutil) on a timer and delivers each Heartbeat to the
EPU Management endpoint that owns this node, over pkg/rpc.`,
	RunE: runAgent,
}

func init() {
	agentCmd.AddCommand(agentRunCmd)

	f := agentRunCmd.Flags()
	f.String("node-id", "", "this node's ID, as assigned by the Provisioner (required)")
	f.String("controller-addr", "", "EPU Management pkg/rpc address to heartbeat to (required)")
	f.Bool("insecure", false, "skip mTLS on the pkg/rpc client (tests/local only)")
	f.Duration("period", 10*time.Second, "heartbeat interval")

	f.String("supervisor", "gopsutil", "process supervisor: gopsutil or containerd")
	f.StringSlice("process", nil, "process name to watch, when --supervisor=gopsutil (repeatable)")
	f.String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path, when --supervisor=containerd")
	f.String("containerd-namespace", "epu", "containerd namespace, when --supervisor=containerd")

	f.String("context-file", "", "path to a JSON-encoded types.ContextInfo, for launch rendezvous publication")
	f.String("secrets-password", "", "password to derive this node's context secret decryption key")
	f.String("public-ip", "", "this node's public IP, published to its launch context")
	f.String("private-ip", "", "this node's private IP, published to its launch context")
}

func runAgent(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	nodeID, _ := f.GetString("node-id")
	controllerAddr, _ := f.GetString("controller-addr")
	insecure, _ := f.GetBool("insecure")
	period, _ := f.GetDuration("period")
	supervisorKind, _ := f.GetString("supervisor")
	processNames, _ := f.GetStringSlice("process")
	containerdSocket, _ := f.GetString("containerd-socket")
	containerdNamespace, _ := f.GetString("containerd-namespace")
	contextFile, _ := f.GetString("context-file")
	secretsPassword, _ := f.GetString("secrets-password")
	publicIP, _ := f.GetString("public-ip")
	privateIP, _ := f.GetString("private-ip")

	if nodeID == "" {
		return fmt.Errorf("--node-id is required")
	}
	if controllerAddr == "" {
		return fmt.Errorf("--controller-addr is required")
	}

	supervisor, err := buildSupervisor(supervisorKind, processNames, containerdSocket, containerdNamespace)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	client, err := newRPCClient(insecure, "ouagent", nodeID, controllerAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctxInfo, err := loadContextInfo(contextFile)
	if err != nil {
		return fmt.Errorf("load context file: %w", err)
	}

	var secrets *security.SecretsManager
	if secretsPassword != "" {
		secrets, err = security.NewSecretsManagerFromPassword(secretsPassword)
		if err != nil {
			return fmt.Errorf("build secrets manager: %w", err)
		}
	}

	sink := &rpcHeartbeatSink{client: client}
	agent := ouagent.NewAgent(nodeID, supervisor, sink, ctxInfo, secrets, publicIP, privateIP)

	ctx := context.Background()
	if err := agent.PublishIdentity(ctx, nodeID); err != nil {
		log.WithComponent("ouagent").Warn().Err(err).Msg("failed to publish node identity to context broker")
	}

	log.WithComponent("ouagent").Info().Str("node_id", nodeID).Str("controller", controllerAddr).Msg("OU Agent running")
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		waitForShutdown()
		cancel()
	}()
	agent.Run(runCtx, period)
	return nil
}

func buildSupervisor(kind string, processNames []string, socket, namespace string) (ouagent.Supervisor, error) {
	switch kind {
	case "gopsutil", "":
		return ouagent.NewGopsutilSupervisor(processNames), nil
	case "containerd":
		return ouagent.NewContainerdSupervisor(socket, namespace)
	default:
		return nil, fmt.Errorf("unknown supervisor %q", kind)
	}
}

func loadContextInfo(path string) (*types.ContextInfo, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info types.ContextInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func newRPCClient(insecure bool, role, nodeID, addr string) (*rpc.Client, error) {
	if insecure {
		return rpc.DialInsecure(addr, nodeID)
	}
	certDir, err := security.GetCertDir(role, nodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve certificate directory: %w", err)
	}
	tlsConfig, err := rpc.ClientTLSConfig(certDir)
	if err != nil {
		return nil, fmt.Errorf("build client TLS config: %w", err)
	}
	return rpc.Dial(addr, tlsConfig, nodeID)
}

// rpcHeartbeatSink adapts ouagent.HeartbeatSink onto EPU Management's
// ou_heartbeat operation. A node never waits on a reply payload — only
// whether delivery succeeded — so it fires rather than calls.
type rpcHeartbeatSink struct {
	client *rpc.Client
}

func (s *rpcHeartbeatSink) Heartbeat(ctx context.Context, hb types.Heartbeat) error {
	kwargs, err := structToMapForTransport(hb)
	if err != nil {
		return err
	}
	return s.client.Fire(ctx, "epum", "ou_heartbeat", kwargs)
}

func structToMapForTransport(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
