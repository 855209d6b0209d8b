package ouagent

import (
	"context"
	"time"

	"github.com/luispineda/epu/pkg/contextbroker"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/security"
	"github.com/luispineda/epu/pkg/types"
)

// HeartbeatSink is where an Agent delivers each heartbeat. In production
// this is an pkg/rpc client calling the owning Controller's heartbeat
// operation; tests substitute a recording fake.
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, hb types.Heartbeat) error
}

// Agent drives Core.GetState on a timer and delivers the result to a
// Controller, publishing this node's identity into its launch context
// once at startup so the rest of the group can find it.
type Agent struct {
	core      *Core
	sink      HeartbeatSink
	ctxInfo   *types.ContextInfo
	secrets   *security.SecretsManager
	publicIP  string
	privateIP string
}

// NewAgent builds an Agent for nodeID. ctxInfo is nil when the node's
// launch carries no context broker rendezvous. secrets is nil when the
// context carries no encrypted rendezvous secret to decrypt.
func NewAgent(nodeID string, supervisor Supervisor, sink HeartbeatSink, ctxInfo *types.ContextInfo, secrets *security.SecretsManager, publicIP, privateIP string) *Agent {
	return &Agent{
		core:      NewCore(nodeID, supervisor),
		sink:      sink,
		ctxInfo:   ctxInfo,
		secrets:   secrets,
		publicIP:  publicIP,
		privateIP: privateIP,
	}
}

// PublishIdentity registers this node's addresses into its launch
// context, if one was configured. Safe to call more than once; the
// broker treats it as an upsert.
func (a *Agent) PublishIdentity(ctx context.Context, nodeID string) error {
	if a.ctxInfo == nil {
		return nil
	}

	var secret []byte
	if a.secrets != nil && len(a.ctxInfo.Secret) > 0 {
		plain, err := a.secrets.DecryptContextSecret(a.ctxInfo)
		if err != nil {
			return err
		}
		secret = plain
	}

	return contextbroker.PublishIdentity(ctx, *a.ctxInfo, contextbroker.NodeIdentity{
		NodeID:    nodeID,
		PublicIP:  a.publicIP,
		PrivateIP: a.privateIP,
	}, secret)
}

// Beat runs one heartbeat cycle: compute state, deliver it.
func (a *Agent) Beat(ctx context.Context) error {
	hb := a.core.GetState(ctx)
	if err := a.sink.Heartbeat(ctx, hb); err != nil {
		log.WithComponent("ouagent").Error().Err(err).Msg("failed to deliver heartbeat")
		return err
	}
	return nil
}

// Run beats on a ticker until ctx is canceled.
func (a *Agent) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.Beat(ctx)
		}
	}
}
