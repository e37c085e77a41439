package southbound

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Device accepts commands for the switches. Every call is fire-and-forget:
// replies come back later as events.
type Device interface {
	InstallRule(ctx context.Context, rule Rule) error
	InstallOrUpdateGroup(ctx context.Context, group GroupMod) error
	DeleteAllRules(ctx context.Context, dpid uint64) error
	EmitProbePacket(ctx context.Context, probe Probe) error
	RequestPortStats(ctx context.Context, dpid uint64) error
}

// LoggingDevice only logs commands. It stands in when no transport is
// configured.
type LoggingDevice struct{}

func (LoggingDevice) InstallRule(_ context.Context, rule Rule) error {
	log.Infof("rule dp %d priority %d match [%s] actions %v", rule.DPID, rule.Priority, rule.Match, rule.Actions)
	return nil
}

func (LoggingDevice) InstallOrUpdateGroup(_ context.Context, group GroupMod) error {
	log.Infof("group %s dp %d id %d type %s buckets %v", group.Command, group.DPID, group.GroupID, group.Type, group.Buckets)
	return nil
}

func (LoggingDevice) DeleteAllRules(_ context.Context, dpid uint64) error {
	log.Infof("delete all rules dp %d", dpid)
	return nil
}

func (LoggingDevice) EmitProbePacket(_ context.Context, probe Probe) error {
	log.Debugf("probe dp %d port %d payload %q", probe.DPID, probe.OutPort, probe.Payload)
	return nil
}

func (LoggingDevice) RequestPortStats(_ context.Context, dpid uint64) error {
	log.Debugf("port stats request dp %d", dpid)
	return nil
}
