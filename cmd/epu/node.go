package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/luispineda/epu/pkg/contextbroker"
	"github.com/luispineda/epu/pkg/controller"
	"github.com/luispineda/epu/pkg/dtrs"
	"github.com/luispineda/epu/pkg/epum"
	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/events"
	"github.com/luispineda/epu/pkg/healthmonitor"
	"github.com/luispineda/epu/pkg/iaas"
	"github.com/luispineda/epu/pkg/launcher"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/provisioner"
	"github.com/luispineda/epu/pkg/rpc"
	"github.com/luispineda/epu/pkg/security"
	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a control-plane node",
}

var nodeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Provisioner, EPU Management and EPU Controllers in one process",
	Long: `node run boots the full control plane as a single process: a
Provisioner, EPU Management's domain registry, and one Controller per live
domain, all reachable over one pkg/rpc listener. This is the default,
simplest deployment shape; a larger deployment can instead run the
Provisioner and EPU Management as separate processes talking over
pkg/rpc, using pkg/launcher.Remote in place of Local.`,
	RunE: runNode,
}

func init() {
	nodeCmd.AddCommand(nodeRunCmd)

	f := nodeRunCmd.Flags()
	f.String("node-id", "node-1", "unique ID for this control-plane node")
	f.String("data-dir", "./data", "directory for store/Raft/certificate data")
	f.String("rpc-addr", "0.0.0.0:7100", "address the pkg/rpc listener binds")
	f.String("metrics-addr", "127.0.0.1:9090", "address the Prometheus /metrics endpoint binds")
	f.Bool("insecure", false, "skip mTLS on the pkg/rpc listener (tests/local only)")

	f.String("store", "bolt", "registry/provisioner backend: bolt or redis")
	f.String("redis-addr", "127.0.0.1:6379", "Redis address, when --store=redis")

	f.String("default-user", "admin", "identity allowed to act on unowned domains")
	f.String("cluster-id", "", "cluster identifier the cluster encryption key is derived from")

	f.Bool("ha", false, "run EPU Management's registry behind a real Raft cluster")
	f.String("bind-addr", "127.0.0.1:7300", "Raft transport bind address, when --ha")

	f.String("broker-uri", "", "context broker base URI for launch rendezvous")
	f.String("dtrs-endpoint", "", "deployable-type resolution service endpoint")

	f.String("driver", "fake", "IaaS driver: fake, lima, or ec2")
	f.String("site", "default", "site name this node's driver serves")
	f.String("ec2-region", "us-east-1", "AWS region, when --driver=ec2")
	f.String("ec2-image", "", "AMI ID, when --driver=ec2")
	f.String("ec2-subnet", "", "subnet ID, when --driver=ec2")
	f.String("ec2-instance-type", "t3.micro", "instance type, when --driver=ec2")
}

func runNode(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	nodeID, _ := f.GetString("node-id")
	dataDir, _ := f.GetString("data-dir")
	rpcAddr, _ := f.GetString("rpc-addr")
	metricsAddr, _ := f.GetString("metrics-addr")
	insecure, _ := f.GetBool("insecure")
	storeKind, _ := f.GetString("store")
	redisAddr, _ := f.GetString("redis-addr")
	defaultUser, _ := f.GetString("default-user")
	clusterID, _ := f.GetString("cluster-id")
	ha, _ := f.GetBool("ha")
	bindAddr, _ := f.GetString("bind-addr")
	brokerURI, _ := f.GetString("broker-uri")
	dtrsEndpoint, _ := f.GetString("dtrs-endpoint")
	driverName, _ := f.GetString("driver")
	site, _ := f.GetString("site")

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := openStore(storeKind, dataDir, redisAddr)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	if clusterID != "" {
		key := security.DeriveKeyFromClusterID(clusterID)
		if err := security.SetClusterEncryptionKey(key); err != nil {
			return fmt.Errorf("set cluster encryption key: %w", err)
		}
	}

	ctx := context.Background()
	driver, err := buildDriver(ctx, cmd, driverName, site, dataDir)
	if err != nil {
		return fmt.Errorf("build IaaS driver: %w", err)
	}

	ctxClient := contextbroker.NewHTTPClient(brokerURI)
	resolver := dtrs.NewResolver(dtrsEndpoint, 30*time.Second)
	provCore := provisioner.NewCore(store, ctxClient, resolver, map[string]iaas.Driver{site: driver}, broker)

	rpcServer, err := newRPCServer(insecure, "controller", nodeID)
	if err != nil {
		return err
	}
	registerProvisionerRPC(rpcServer, provCore)

	factory := domainRuntimeFactory(store, broker, provCore)

	mgr := epum.NewManager(nodeID, bindAddr, dataDir, store, broker, defaultUser, factory)
	if ha {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap raft: %w", err)
		}
		log.WithComponent("epu").Info().Str("node_id", nodeID).Msg("EPU Management registry running under Raft")
	}
	mgr.RegisterRPC(rpcServer)

	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rpcAddr, err)
	}
	go func() {
		if err := rpcServer.Serve(lis); err != nil {
			log.WithComponent("epu").Error().Err(err).Msg("rpc server stopped")
		}
	}()
	log.WithComponent("epu").Info().Str("addr", rpcAddr).Msg("rpc listener running")

	serveMetrics(metricsAddr)

	waitForShutdown()
	rpcServer.GracefulStop()
	return nil
}

func openStore(kind, dataDir, redisAddr string) (storage.Store, error) {
	switch kind {
	case "redis":
		return storage.NewRedisStore(redisAddr, 0)
	case "bolt", "":
		return storage.NewBoltStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

func buildDriver(ctx context.Context, cmd *cobra.Command, driverName, site, dataDir string) (iaas.Driver, error) {
	f := cmd.Flags()
	switch driverName {
	case "fake":
		return iaas.NewFakeDriver(site), nil
	case "lima":
		return iaas.NewLimaDriver(site, dataDir), nil
	case "ec2":
		region, _ := f.GetString("ec2-region")
		image, _ := f.GetString("ec2-image")
		subnet, _ := f.GetString("ec2-subnet")
		instanceType, _ := f.GetString("ec2-instance-type")
		return iaas.NewEC2Driver(ctx, site, region, image, subnet, ec2types.InstanceType(instanceType))
	default:
		return nil, fmt.Errorf("unknown driver %q", driverName)
	}
}

// registerProvisionerRPC exposes provisioner.Core's mutating operations
// over pkg/rpc, for a pkg/launcher.Remote caller (a Controller running in
// a different process).
func registerProvisionerRPC(srv *rpc.Server, core *provisioner.Core) {
	srv.Register("provisioner", "provision", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		ctxName, _ := kwargs["ctx_name"].(string)
		site, _ := kwargs["site"].(string)
		allocation, _ := kwargs["allocation"].(string)
		deployableType, _ := kwargs["deployable_type"].(string)
		launchID, _ := kwargs["launch_id"].(string)
		domainID, _ := kwargs["domain_id"].(string)
		rawIDs, _ := kwargs["node_ids"].([]any)

		ids := make([]string, 0, len(rawIDs))
		for _, v := range rawIDs {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}

		launch, err := core.PrepareProvision(ctx, provisioner.ProvisionRequest{
			LaunchID:       launchID,
			DomainID:       domainID,
			DeployableType: deployableType,
			Nodes: map[string]types.NodeRequest{
				ctxName: {CtxName: ctxName, IDs: ids, Site: site, Allocation: allocation},
			},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"launch_id": launch.LaunchID}, nil
	})

	srv.Register("provisioner", "terminate_nodes", func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error) {
		raw, _ := kwargs["node_ids"].([]any)
		ids := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		return nil, core.TerminateNodes(ctx, ids)
	})
}

// domainRuntimeFactory builds the epum.Factory callback used to start a
// Controller/health Monitor pair for each domain as it is added.
func domainRuntimeFactory(store storage.Store, broker *events.Broker, provCore *provisioner.Core) epum.Factory {
	return func(domain *types.Domain, def *types.DomainDefinition) (*epum.DomainRuntime, error) {
		eng, ok := controller.Load(def.EngineClass)
		if !ok {
			return nil, epuerrors.Invalid("unknown engine class %q", def.EngineClass)
		}

		// The in-process Provisioner is reached directly, never over
		// pkg/rpc: node run hosts both in one binary.
		provAdapter := launcher.NewLocal(provCore, domain.DomainID)
		control := controller.NewControl(provAdapter, domain.DomainID, domain.Config)
		state := controller.NewState()
		if err := eng.Initialize(context.Background(), control, state, domain.Config); err != nil {
			return nil, err
		}
		core := controller.NewCore(eng, control, state)

		var health *healthmonitor.Monitor
		if def.HealthConf.MonitorHealth {
			health = healthmonitor.NewMonitor(store, broker, def.HealthConf)
		}

		queueName, _ := domain.Config["queue_name"].(string)
		return epum.NewDomainRuntime(domain.DomainID, core, health, queueName), nil
	}
}

func newRPCServer(insecure bool, role, nodeID string) (*rpc.Server, error) {
	if insecure {
		return rpc.NewServer(nil), nil
	}
	certDir, err := security.GetCertDir(role, nodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve certificate directory: %w", err)
	}
	tlsConfig, err := rpc.ServerTLSConfig(certDir)
	if err != nil {
		return nil, fmt.Errorf("build server TLS config: %w", err)
	}
	return rpc.NewServer(tlsConfig), nil
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
