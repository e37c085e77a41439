package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"mpsdn/config"
	"mpsdn/southbound"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	CommandInstallRule      = "install_rule"
	CommandGroupMod         = "group_mod"
	CommandDeleteAllRules   = "delete_all_rules"
	CommandEmitProbe        = "emit_probe"
	CommandPortStatsRequest = "port_stats_request"
)

// Command is one southbound command as the transport reads it from etcd.
type Command struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	DPID      uint64          `json:"dpid"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Connect opens the etcd client shared by the publisher and the worker.
func Connect(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return client, nil
}

// CommandPublisher is a southbound.Device that hands every command to the
// transport through etcd. Commands of one switch are stored under
// <prefix><dpid>/ with keys that sort in issue order.
type CommandPublisher struct {
	kv          clientv3.KV
	prefix      string
	publisherID string
	seq         atomic.Uint64
	now         func() time.Time
}

func NewCommandPublisher(kv clientv3.KV, prefix string) *CommandPublisher {
	return &CommandPublisher{
		kv:          kv,
		prefix:      prefix,
		publisherID: fmt.Sprintf("publisher-%d", time.Now().Unix()),
		now:         time.Now,
	}
}

func (p *CommandPublisher) InstallRule(ctx context.Context, rule southbound.Rule) error {
	return p.publish(ctx, CommandInstallRule, rule.DPID, rule)
}

func (p *CommandPublisher) InstallOrUpdateGroup(ctx context.Context, group southbound.GroupMod) error {
	return p.publish(ctx, CommandGroupMod, group.DPID, group)
}

func (p *CommandPublisher) DeleteAllRules(ctx context.Context, dpid uint64) error {
	return p.publish(ctx, CommandDeleteAllRules, dpid, nil)
}

func (p *CommandPublisher) EmitProbePacket(ctx context.Context, probe southbound.Probe) error {
	return p.publish(ctx, CommandEmitProbe, probe.DPID, probe)
}

func (p *CommandPublisher) RequestPortStats(ctx context.Context, dpid uint64) error {
	return p.publish(ctx, CommandPortStatsRequest, dpid, nil)
}

// Key returns where the n-th command for dpid is stored.
func (p *CommandPublisher) Key(dpid, n uint64) string {
	return fmt.Sprintf("%s%d/%020d", p.prefix, dpid, n)
}

func (p *CommandPublisher) publish(ctx context.Context, kind string, dpid uint64, payload any) error {
	n := p.seq.Add(1)
	cmd := Command{
		ID:        fmt.Sprintf("%s-%d", p.publisherID, n),
		Kind:      kind,
		DPID:      dpid,
		CreatedAt: p.now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		cmd.Payload = raw
	}

	cmdJSON, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	if _, err := p.kv.Put(ctx, p.Key(dpid, n), string(cmdJSON)); err != nil {
		return fmt.Errorf("failed to publish %s for switch %d: %w", kind, dpid, err)
	}

	log.Debugf("[%s] command published: %s (kind %s, dp %d)", p.publisherID, cmd.ID, kind, dpid)
	return nil
}
