// Package provisioner implements the node/launch lifecycle state machine:
// it turns a provision request into IaaS driver calls, tracks nodes
// through their strictly-ordered states, and recovers in-progress work
// after a crash using the store plus idempotent IaaS calls as the single
// source of truth.
package provisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luispineda/epu/pkg/contextbroker"
	"github.com/luispineda/epu/pkg/dtrs"
	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/events"
	"github.com/luispineda/epu/pkg/iaas"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/security"
	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

// ProvisionRequest is the input to Provision: a deployable type to
// resolve, a context (or request for one to be created), and the node
// groups (by ctx_name) to launch.
type ProvisionRequest struct {
	LaunchID       string
	DomainID       string
	DeployableType string
	Subscribers    []types.Subscriber
	Nodes          map[string]types.NodeRequest // keyed by ctx_name
}

// DeployableTypeResolver is the subset of *dtrs.Resolver the Provisioner
// depends on, narrowed to an interface so tests can substitute a fake.
type DeployableTypeResolver interface {
	Resolve(ctx context.Context, deployableType string) (string, *dtrs.ClusterDocument, error)
}

// defaultMissingNodeWindow is how long a PENDING/STARTED node may be absent
// from a site's ListNodes before query_nodes gives up on it and fails it,
// per spec.md's "~60s" grace window.
const defaultMissingNodeWindow = 60 * time.Second

// Core is the Provisioner's state machine. It is safe for concurrent use;
// the only mutable shared state is the store.
type Core struct {
	store             storage.Store
	ctx               contextbroker.Client
	dtrs              DeployableTypeResolver
	drivers           map[string]iaas.Driver
	events            *events.Broker
	secrets           *security.SecretsManager
	missingNodeWindow time.Duration
}

// NewCore builds a Core over the given store, context broker client,
// deployable type resolver, per-site drivers, and event broker.
func NewCore(store storage.Store, ctxClient contextbroker.Client, resolver DeployableTypeResolver, drivers map[string]iaas.Driver, broker *events.Broker) *Core {
	return &Core{
		store:             store,
		ctx:               ctxClient,
		dtrs:              resolver,
		drivers:           drivers,
		events:            broker,
		missingNodeWindow: defaultMissingNodeWindow,
	}
}

// SetSecretsManager configures encryption of each launch's context
// rendezvous secret at rest. Without one, a context's Secret is stored
// exactly as the broker returned it.
func (c *Core) SetSecretsManager(sm *security.SecretsManager) {
	c.secrets = sm
}

// SetMissingNodeWindow overrides how long a node may be absent from its
// site's ListNodes before query_nodes fails it. Tests use this to shrink
// the window below defaultMissingNodeWindow.
func (c *Core) SetMissingNodeWindow(d time.Duration) {
	c.missingNodeWindow = d
}

func (c *Core) driverFor(site string) (iaas.Driver, error) {
	d, ok := c.drivers[site]
	if !ok {
		return nil, epuerrors.Invalid("no driver configured for site %s", site)
	}
	return d, nil
}

// PrepareProvision validates a request, resolves its deployable type, and
// writes the REQUESTED launch and node records — all before any IaaS call
// is made, so a crash here leaves nothing to recover.
func (c *Core) PrepareProvision(ctx context.Context, req ProvisionRequest) (*types.Launch, error) {
	_, _, err := c.dtrs.Resolve(ctx, req.DeployableType)
	if err != nil {
		return nil, err
	}

	ctxInfo, err := c.ctx.CreateContext(ctx)
	if err != nil {
		return nil, err
	}
	if c.secrets != nil && len(ctxInfo.Secret) > 0 {
		if err := c.secrets.EncryptContextSecret(&ctxInfo, ctxInfo.Secret); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	launch := &types.Launch{
		LaunchID:       req.LaunchID,
		DomainID:       req.DomainID,
		DeployableType: req.DeployableType,
		State:          types.LaunchRequested,
		Context:        ctxInfo,
		Subscribers:    req.Subscribers,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var nodeIDs []string
	for ctxName, nr := range req.Nodes {
		for _, nodeID := range nr.IDs {
			node := &types.Node{
				NodeID:     nodeID,
				LaunchID:   req.LaunchID,
				Site:       nr.Site,
				Allocation: nr.Allocation,
				CtxName:    ctxName,
				State:      types.InstanceRequesting,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := c.store.CreateNode(node); err != nil {
				return nil, err
			}
			nodeIDs = append(nodeIDs, nodeID)
		}
	}
	launch.NodeIDs = nodeIDs

	if err := c.store.CreateLaunch(launch); err != nil {
		return nil, err
	}

	c.notify(events.EventLaunchRequested, launch.LaunchID, "launch prepared")
	return launch, nil
}

// updateNodeIPInfo applies the first-non-empty-wins rule: a subsequently
// empty reading from the IaaS layer never erases a previously known IP.
func updateNodeIPInfo(node *types.Node, publicIP, privateIP string) {
	if publicIP != "" {
		node.PublicIP = publicIP
	}
	if privateIP != "" {
		node.PrivateIP = privateIP
	}
}

// ExecuteProvision drives every node of a REQUESTED launch through its
// IaaS CreateNode call, advancing REQUESTING->REQUESTED->PENDING. Each
// driver call uses the node's own NodeID as the idempotency token, so
// re-running ExecuteProvision for a launch that partially succeeded
// before a crash is safe: nodes already PENDING or later are skipped.
//
// A node whose CreateNode call fails transiently is left ERROR_RETRYING,
// not failed: the launch itself stays REQUESTED so a later retry of
// ExecuteProvision (via Recover, or an operator-triggered re-run) picks it
// back up, since ExecuteProvision only skips nodes already AtLeast(PENDING).
func (c *Core) ExecuteProvision(ctx context.Context, launchID string) error {
	launch, err := c.store.GetLaunch(launchID)
	if err != nil {
		return err
	}

	nodes, err := c.store.ListNodesByLaunch(launchID)
	if err != nil {
		return err
	}

	anyFailed := false
	anyRetrying := false
	for _, node := range nodes {
		if node.State.AtLeast(types.InstancePending) {
			continue // already launched (or further along) on a prior attempt
		}

		driver, err := c.driverFor(node.Site)
		if err != nil {
			c.failNode(node, err)
			anyFailed = true
			continue
		}

		node.State = types.InstanceRequested
		node.UpdatedAt = time.Now()
		if err := c.store.UpdateNode(node); err != nil {
			return err
		}

		info, err := driver.CreateNode(ctx, iaas.NodeSpec{
			NodeID:         node.NodeID,
			Site:           node.Site,
			Allocation:     node.Allocation,
			DeployableType: launch.DeployableType,
		})
		if err != nil {
			if epuerrors.Transient(err) {
				node.State = types.InstanceErrorRetry
				node.UpdatedAt = time.Now()
				_ = c.store.UpdateNode(node)
				anyRetrying = true
				continue
			}
			c.failNode(node, err)
			anyFailed = true
			continue
		}

		node.IaaSID = info.IaaSID
		updateNodeIPInfo(node, info.PublicIP, info.PrivateIP)
		node.State = types.InstancePending
		node.PendingTimestamp = time.Now()
		node.UpdatedAt = time.Now()
		if err := c.store.UpdateNode(node); err != nil {
			return err
		}
		c.notify(events.EventNodeStateChanged, node.NodeID, string(node.State))
	}

	switch {
	case anyFailed:
		launch.State = types.LaunchFailed
	case anyRetrying:
		launch.State = types.LaunchRequested // stay in progress for the next ExecuteProvision attempt
	default:
		launch.State = types.LaunchPending
	}
	launch.UpdatedAt = time.Now()
	return c.store.UpdateLaunch(launch)
}

func (c *Core) failNode(node *types.Node, err error) {
	node.State = types.InstanceFailed
	node.StateDesc = err.Error()
	node.UpdatedAt = time.Now()
	_ = c.store.UpdateNode(node)
	c.notify(events.EventNodeStateChanged, node.NodeID, string(node.State))
}

// Query performs the two-pass sweep documented for the Provisioner:
// first query_nodes (poll each driver's ListNodes, promote PENDING nodes
// whose IaaS status went RUNNING/ERROR, fail ones that vanished past the
// missing-node window), then query_contexts (poll the context broker for
// each in-progress launch and promote each node individually by its
// per-identity outcome).
func (c *Core) Query(ctx context.Context) error {
	if err := c.queryNodes(ctx); err != nil {
		return err
	}
	return c.queryContexts(ctx)
}

// queryNodes groups live nodes (PENDING/STARTED) by site, polls each
// driver's ListNodes once, and reconciles. A node the site's listing no
// longer reports is only failed once it has been missing longer than
// c.missingNodeWindow; within the window it is left alone, since a crash-
// recovered or just-created node can take a moment to show up.
func (c *Core) queryNodes(ctx context.Context) error {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return err
	}

	bySite := make(map[string][]*types.Node)
	for _, n := range nodes {
		if n.State == types.InstancePending || n.State == types.InstanceStarted {
			bySite[n.Site] = append(bySite[n.Site], n)
		}
	}

	for site, pending := range bySite {
		driver, err := c.driverFor(site)
		if err != nil {
			continue
		}
		infos, err := driver.ListNodes(ctx)
		if err != nil {
			log.WithComponent("provisioner").Warn().Err(err).Str("site", site).Msg("list nodes failed, will retry next sweep")
			continue
		}
		byID := make(map[string]*iaas.NodeInfo, len(infos))
		for _, info := range infos {
			byID[info.NodeID] = info
		}

		for _, node := range pending {
			info, ok := byID[node.NodeID]
			if !ok {
				// missing from this site's listing: only fail it once it has
				// been unaccounted for longer than the configured grace
				// window, so a node the IaaS layer just hasn't caught up on
				// yet isn't killed prematurely.
				if time.Since(node.PendingTimestamp) > c.missingNodeWindow {
					node.State = types.InstanceFailed
					node.StateDesc = "missing from IaaS listing past grace window"
					node.UpdatedAt = time.Now()
					if err := c.store.UpdateNode(node); err != nil {
						return err
					}
					c.notify(events.EventNodeStateChanged, node.NodeID, string(node.State))
				}
				continue
			}
			switch info.Status {
			case iaas.NodeStatusRunning:
				node.State = types.InstanceStarted
				updateNodeIPInfo(node, info.PublicIP, info.PrivateIP)
			case iaas.NodeStatusError:
				node.State = types.InstanceFailed
			case iaas.NodeStatusTerminated:
				node.State = types.InstanceTerminated
			default:
				continue
			}
			node.UpdatedAt = time.Now()
			if err := c.store.UpdateNode(node); err != nil {
				return err
			}
			c.notify(events.EventNodeStateChanged, node.NodeID, string(node.State))
		}
	}
	return nil
}

// allNodesReadyForContextQuery reports whether every node of a launch is at
// least STARTED and none is TERMINATING — the precondition spec.md sets for
// querying the context broker at all. Querying a context before every
// member has even booted, or while one is being torn down, can't produce a
// meaningful membership answer.
func allNodesReadyForContextQuery(nodes []*types.Node) bool {
	for _, n := range nodes {
		if n.State == types.InstanceTerminating {
			return false
		}
		if n.State.Before(types.InstanceStarted) {
			return false
		}
	}
	return true
}

// queryContexts polls the context broker for each in-progress launch and
// promotes nodes individually by the broker's per-identity outcome: a node
// that reported ok_occurred moves to RUNNING, one that reported
// error_occurred moves to RUNNING_FAILED. The launch itself only leaves
// PENDING once the broker's aggregate Status resolves (OK or ERROR); until
// then it stays in progress, picking up newly-reported identities on each
// later sweep.
func (c *Core) queryContexts(ctx context.Context) error {
	launches, err := c.store.ListLaunches()
	if err != nil {
		return err
	}

	for _, launch := range launches {
		if launch.State != types.LaunchPending {
			continue
		}

		nodes, err := c.store.ListNodesByLaunch(launch.LaunchID)
		if err != nil {
			return err
		}
		if !allNodesReadyForContextQuery(nodes) {
			continue
		}

		result, err := c.ctx.Query(ctx, launch.Context)
		if err != nil {
			if epuerrors.Transient(err) {
				continue // broker outage: try again next sweep
			}
			if err := c.failLaunchNodes(nodes, err.Error()); err != nil {
				return err
			}
			launch.State = types.LaunchFailed
			launch.UpdatedAt = time.Now()
			if err := c.store.UpdateLaunch(launch); err != nil {
				return err
			}
			c.notify(events.EventLaunchFailed, launch.LaunchID, err.Error())
			continue
		}

		if err := c.promoteNodesByOutcome(nodes, result); err != nil {
			return err
		}

		switch result.Status {
		case contextbroker.StatusOK:
			launch.State = types.LaunchRunning
			launch.UpdatedAt = time.Now()
			if err := c.store.UpdateLaunch(launch); err != nil {
				return err
			}
		case contextbroker.StatusError:
			if err := c.failLaunchNodes(nodes, "context reported membership failure"); err != nil {
				return err
			}
			launch.State = types.LaunchFailed
			launch.UpdatedAt = time.Now()
			if err := c.store.UpdateLaunch(launch); err != nil {
				return err
			}
			c.notify(events.EventLaunchFailed, launch.LaunchID, "context reported error")
		default:
			// still collecting identities: matched nodes were promoted
			// above, the rest wait for a later sweep.
		}
	}
	return nil
}

// promoteNodesByOutcome advances each node of a launch whose identity has
// reported into result: OK -> RUNNING, ERROR -> RUNNING_FAILED. A node not
// yet present in result.Nodes is left exactly where it is.
func (c *Core) promoteNodesByOutcome(nodes []*types.Node, result contextbroker.QueryResult) error {
	for _, node := range nodes {
		if node.State.Terminal() || node.State == types.InstanceRunning || node.State == types.InstanceRunningFailed {
			continue
		}
		identity, ok := result.Nodes[node.NodeID]
		if !ok {
			continue // hasn't checked in yet
		}
		switch identity.Outcome {
		case contextbroker.OutcomeOK:
			node.State = types.InstanceRunning
		case contextbroker.OutcomeError:
			node.State = types.InstanceRunningFailed
		default:
			continue
		}
		node.UpdatedAt = time.Now()
		if err := c.store.UpdateNode(node); err != nil {
			return err
		}
		c.notify(events.EventNodeStateChanged, node.NodeID, string(node.State))
	}
	return nil
}

// failLaunchNodes moves every non-terminal node of a launch to
// RUNNING_FAILED, for the whole-context failures (broker error, reported
// membership failure) that doom every node still in progress rather than
// just one identity.
func (c *Core) failLaunchNodes(nodes []*types.Node, reason string) error {
	for _, node := range nodes {
		if node.State.Terminal() || node.State == types.InstanceRunningFailed {
			continue
		}
		node.State = types.InstanceRunningFailed
		node.StateDesc = reason
		node.UpdatedAt = time.Now()
		if err := c.store.UpdateNode(node); err != nil {
			return err
		}
		c.notify(events.EventNodeStateChanged, node.NodeID, string(node.State))
	}
	return nil
}

// TerminateNodes tears down the listed nodes and marks them TERMINATING,
// then TERMINATED once the driver confirms destruction.
func (c *Core) TerminateNodes(ctx context.Context, nodeIDs []string) error {
	for _, id := range nodeIDs {
		node, err := c.store.GetNode(id)
		if err != nil {
			return err
		}
		if node.State.Terminal() {
			continue
		}
		if err := c.terminateNode(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) terminateNode(ctx context.Context, node *types.Node) error {
	node.State = types.InstanceTerminating
	node.UpdatedAt = time.Now()
	if err := c.store.UpdateNode(node); err != nil {
		return err
	}
	c.notify(events.EventNodeTerminating, node.NodeID, "")

	driver, err := c.driverFor(node.Site)
	if err != nil {
		return err
	}
	if err := driver.DestroyNode(ctx, node.NodeID); err != nil {
		return err
	}

	node.State = types.InstanceTerminated
	node.UpdatedAt = time.Now()
	return c.store.UpdateNode(node)
}

// TerminateLaunches tears down every node belonging to the given launches
// and marks each launch TERMINATED once all of its nodes are.
func (c *Core) TerminateLaunches(ctx context.Context, launchIDs []string) error {
	for _, launchID := range launchIDs {
		launch, err := c.store.GetLaunch(launchID)
		if err != nil {
			return err
		}
		launch.State = types.LaunchTerminating
		launch.UpdatedAt = time.Now()
		if err := c.store.UpdateLaunch(launch); err != nil {
			return err
		}

		nodes, err := c.store.ListNodesByLaunch(launchID)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			if node.State.Terminal() {
				continue
			}
			if err := c.terminateNode(ctx, node); err != nil {
				return err
			}
		}
		launch.State = types.LaunchTerminated
		launch.UpdatedAt = time.Now()
		if err := c.store.UpdateLaunch(launch); err != nil {
			return err
		}
		c.notify(events.EventLaunchTerminated, launchID, "")
	}
	return nil
}

// TerminateAll terminates every non-terminal launch known to the store.
// It is idempotent and safe to call repeatedly until CheckTerminateAll
// reports completion.
func (c *Core) TerminateAll(ctx context.Context) error {
	launches, err := c.store.ListLaunches()
	if err != nil {
		return err
	}
	var ids []string
	for _, l := range launches {
		if l.State != types.LaunchTerminated {
			ids = append(ids, l.LaunchID)
		}
	}
	return c.TerminateLaunches(ctx, ids)
}

// CheckTerminateAll reports whether every launch known to the store has
// reached the TERMINATED state.
func (c *Core) CheckTerminateAll(ctx context.Context) (bool, error) {
	launches, err := c.store.ListLaunches()
	if err != nil {
		return false, err
	}
	for _, l := range launches {
		if l.State != types.LaunchTerminated {
			return false, nil
		}
	}
	return true, nil
}

// DumpState returns every node record, for diagnostic or subscriber
// catch-up use.
func (c *Core) DumpState(ctx context.Context) ([]*types.Node, error) {
	return c.store.ListNodes()
}

// Recover resumes in-flight work after a crash: REQUESTED launches finish
// their IaaS calls (idempotently), TERMINATING nodes and launches resume
// destruction, and PENDING/STARTED nodes get picked up on the next Query
// sweep automatically.
func (c *Core) Recover(ctx context.Context) error {
	launches, err := c.store.ListLaunches()
	if err != nil {
		return err
	}

	for _, launch := range launches {
		switch launch.State {
		case types.LaunchRequested:
			if err := c.ExecuteProvision(ctx, launch.LaunchID); err != nil {
				log.WithComponent("provisioner").Error().Err(err).Str("launch_id", launch.LaunchID).Msg("recovery execute failed")
			}
		case types.LaunchTerminated:
			// nothing to do
		default:
			nodes, err := c.store.ListNodesByLaunch(launch.LaunchID)
			if err != nil {
				return err
			}
			allTerminated := true
			for _, node := range nodes {
				if node.State == types.InstanceTerminating {
					if err := c.terminateNode(ctx, node); err != nil {
						return err
					}
				}
				if node.State != types.InstanceTerminated {
					allTerminated = false
				}
			}
			if launch.State == types.LaunchTerminating && allTerminated {
				launch.State = types.LaunchTerminated
				launch.UpdatedAt = time.Now()
				if err := c.store.UpdateLaunch(launch); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Core) notify(event events.EventType, subjectID, message string) {
	if c.events == nil {
		return
	}
	c.events.Publish(&events.Event{
		ID:      uuid.NewString(),
		Type:    event,
		Message: fmt.Sprintf("%s: %s", subjectID, message),
	})
}
