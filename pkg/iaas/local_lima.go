//go:build darwin

package iaas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/log"
)

// LimaDriver runs one Lima VM per node, named after the node's
// idempotency token. It stands in for the reference local-VM driver: no
// other local-VM-bringup library appears in the retrieval pack.
type LimaDriver struct {
	site    string
	dataDir string
}

// NewLimaDriver returns a driver for the given site name, storing Lima
// instance data under dataDir.
func NewLimaDriver(site, dataDir string) *LimaDriver {
	return &LimaDriver{site: site, dataDir: dataDir}
}

func (d *LimaDriver) Site() string { return d.site }

func limaInstanceName(nodeID string) string {
	return "epu-" + nodeID
}

func (d *LimaDriver) CreateNode(ctx context.Context, spec NodeSpec) (*NodeInfo, error) {
	name := limaInstanceName(spec.NodeID)
	logger := log.WithComponent("iaas-lima")

	if inst, err := store.Inspect(name); err == nil {
		// Already exists: idempotent CreateNode returns it as-is.
		logger.Info().Str("node_id", spec.NodeID).Msg("lima instance already exists, returning existing")
		return d.toNodeInfo(spec.NodeID, inst), nil
	}

	cfg := d.buildConfig(spec)
	configYAML, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return nil, epuerrors.Driver(err, "marshal lima config for %s", spec.NodeID)
	}

	if _, err := instance.Create(ctx, name, configYAML, false); err != nil {
		return nil, epuerrors.Driver(err, "create lima instance %s", name)
	}

	inst, err := store.Inspect(name)
	if err != nil {
		return nil, epuerrors.Driver(err, "inspect created lima instance %s", name)
	}

	if err := instance.Start(ctx, inst, "", false); err != nil {
		return nil, epuerrors.Driver(err, "start lima instance %s", name)
	}

	return d.toNodeInfo(spec.NodeID, inst), nil
}

func (d *LimaDriver) ListNodes(ctx context.Context) ([]*NodeInfo, error) {
	names, err := store.Instances()
	if err != nil {
		return nil, epuerrors.Driver(err, "list lima instances")
	}

	var out []*NodeInfo
	for _, name := range names {
		if len(name) < 4 || name[:4] != "epu-" {
			continue
		}
		inst, err := store.Inspect(name)
		if err != nil {
			continue
		}
		out = append(out, d.toNodeInfo(name[4:], inst))
	}
	return out, nil
}

func (d *LimaDriver) DestroyNode(ctx context.Context, nodeID string) error {
	name := limaInstanceName(nodeID)
	inst, err := store.Inspect(name)
	if err != nil {
		// Already gone: destroy is idempotent.
		return nil
	}

	if err := instance.StopGracefully(ctx, inst, false); err != nil {
		instance.StopForcibly(inst)
	}
	if err := instance.Delete(ctx, inst, true); err != nil {
		return epuerrors.Driver(err, "delete lima instance %s", name)
	}
	return nil
}

func (d *LimaDriver) toNodeInfo(nodeID string, inst *store.Instance) *NodeInfo {
	status := NodeStatusPending
	switch inst.Status {
	case store.StatusRunning:
		status = NodeStatusRunning
	case store.StatusStopped:
		status = NodeStatusTerminated
	}

	return &NodeInfo{
		NodeID:    nodeID,
		IaaSID:    inst.Name,
		Status:    status,
		PrivateIP: d.socketHostAddress(inst.Name),
		Launched:  time.Now(),
	}
}

// socketHostAddress mirrors the host-side path Lima exposes a running
// instance's guest agent socket under.
func (d *LimaDriver) socketHostAddress(name string) string {
	limaHome := os.Getenv("LIMA_HOME")
	if limaHome == "" {
		home, _ := os.UserHomeDir()
		limaHome = filepath.Join(home, ".lima")
	}
	return filepath.Join(limaHome, name, "ga.sock")
}

func (d *LimaDriver) buildConfig(spec NodeSpec) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	cpus := 2
	memory := "2GiB"
	disk := "20GiB"

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Images: []limayaml.Image{
			{File: limayaml.File{
				Location: "https://dl-cdn.alpinelinux.org/alpine/v3.19/releases/cloud/alpine-virt-3.19.0-aarch64.iso",
				Arch:     limayaml.AARCH64,
			}},
			{File: limayaml.File{
				Location: "https://dl-cdn.alpinelinux.org/alpine/v3.19/releases/cloud/alpine-virt-3.19.0-x86_64.iso",
				Arch:     limayaml.X8664,
			}},
		},
		Mounts: []limayaml.Mount{
			{Location: filepath.Join(d.dataDir, spec.NodeID), Writable: ptrBool(true)},
		},
		Provision: []limayaml.Provision{
			{Mode: limayaml.ProvisionModeSystem, Script: bootScript(spec)},
		},
		Message: fmt.Sprintf("EPU node %s ready", spec.NodeID),
	}
}

func bootScript(spec NodeSpec) string {
	if spec.UserData != "" {
		return spec.UserData
	}
	return "#!/bin/sh\nset -eux\ntrue\n"
}

func ptrBool(b bool) *bool { return &b }
