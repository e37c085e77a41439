package southbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	src := netip.MustParsePrefix("10.0.1.0/24")
	dst := netip.MustParsePrefix("10.0.2.0/24")

	assert.Equal(t, "eth_type=0x0800,in_port=3,ipv4_src=10.0.1.0/24,ipv4_dst=10.0.2.0/24", IPv4Match(src, dst, 3).String())
	assert.Equal(t, "eth_type=0x0806,in_port=3,arp_spa=10.0.1.0,arp_tpa=10.0.2.0", ARPMatch(src, dst, 3).String())

	tcp := TCPMatch(src, dst, 4)
	assert.Equal(t, IPProtoTCP, tcp.IPProto)
	assert.Equal(t, EthTypeIPv4, tcp.EthType)
}

func TestMatchJSON(t *testing.T) {
	m := IPv4Match(netip.MustParsePrefix("10.0.1.0/24"), netip.MustParsePrefix("10.0.2.0/24"), 1)
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ipv4_src":"10.0.1.0/24"`)

	var back Match
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m, back)
}

func TestOutputBucket(t *testing.T) {
	b := OutputBucket(7, 3)
	assert.Equal(t, uint16(3), b.Weight)
	require.Len(t, b.Actions, 1)
	assert.Equal(t, OutputMaxLen, b.Actions[0].MaxLen)

	g := GroupMod{Buckets: []Bucket{OutputBucket(2, 1), OutputBucket(5, 1)}}
	assert.Equal(t, []uint32{2, 5}, g.Ports())
}

func TestControllerRules(t *testing.T) {
	punt := PuntRule(4, 0x07C7)
	assert.Equal(t, PriorityProbe, punt.Priority)
	assert.Equal(t, "eth_type=0x07c7", punt.Match.String())
	require.Len(t, punt.Actions, 1)
	assert.Equal(t, "controller", punt.Actions[0].String())

	miss := TableMissRule(4)
	assert.Equal(t, PriorityTableMiss, miss.Priority)
	assert.Empty(t, miss.Match.String())
	assert.Equal(t, []Action{ToController()}, miss.Actions)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()
	require.NoError(t, r.InstallRule(ctx, Rule{DPID: 1}))
	require.NoError(t, r.InstallRule(ctx, Rule{DPID: 2}))
	require.NoError(t, r.InstallOrUpdateGroup(ctx, GroupMod{DPID: 2, GroupID: 9}))
	require.NoError(t, r.DeleteAllRules(ctx, 3))
	require.NoError(t, r.EmitProbePacket(ctx, Probe{DPID: 1, OutPort: 2}))
	require.NoError(t, r.RequestPortStats(ctx, 1))

	assert.Len(t, r.Rules(), 2)
	assert.Len(t, r.RulesFor(2), 1)
	assert.Len(t, r.GroupsFor(2), 1)
	assert.Empty(t, r.GroupsFor(1))
	assert.Equal(t, []uint64{3}, r.Deletes())
	assert.Len(t, r.Probes(), 1)
	assert.Equal(t, []uint64{1}, r.StatsRequests())

	r.Reset()
	assert.Empty(t, r.Rules())

	boom := errors.New("boom")
	r.Err = boom
	assert.ErrorIs(t, r.InstallRule(ctx, Rule{DPID: 1}), boom)
	assert.Len(t, r.Rules(), 1, "failed commands are still recorded")
}
