package classifier

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/rulestore"
	"github.com/wardfw/ward/internal/wire"
)

func anyNet() *net.IPNet {
	_, n, _ := net.ParseCIDR("0.0.0.0/0")
	return n
}

func hostNet(ip string) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(ip).To4(), Mask: net.CIDRMask(32, 32)}
}

func newHarness() (*Classifier, *maps.Substrate, *rulestore.Store) {
	sub := maps.NewMemorySubstrate(16, 16, 1)
	store := rulestore.New(sub, nil)
	c := New(sub, store, nil, nil, nil)
	return c, sub, store
}

func TestExactMatchHitGovernsVerdict(t *testing.T) {
	c, sub, _ := newHarness()
	tuple := wire.FlowTuple{SrcIP: 1, DstIP: 2, SrcPort: 1234, DstPort: 80, Protocol: wire.ProtoTCP}
	require.NoError(t, sub.UpsertACL(tuple, wire.ACLValue{Action: wire.ActionDrop, Priority: 10}))

	verdict, err := c.Classify(PacketHeader{SrcIP: 1, DstIP: 2, SrcPort: 1234, DstPort: 80, Protocol: wire.ProtoTCP, Length: 64})
	require.NoError(t, err)
	assert.Equal(t, VerdictDrop, verdict)
}

func TestFallbackScanMatchesWildcardRule(t *testing.T) {
	c, _, store := newHarness()
	_, err := store.Add(&rulestore.Rule{
		Action:    rulestore.ActionDrop,
		SrcNet:    anyNet(),
		DstNet:    hostNet("10.0.0.5"),
		DstPort:   443,
		Protocol:  rulestore.ProtocolTCP,
		Direction: rulestore.DirectionInbound,
		Priority:  100,
		Enabled:   true,
	})
	require.NoError(t, err)

	hdr := PacketHeader{SrcIP: ipToUint32(t, "203.0.113.9"), DstIP: ipToUint32(t, "10.0.0.5"), SrcPort: 5000, DstPort: 443, Protocol: wire.ProtoTCP, Length: 64}
	verdict, err := c.Classify(hdr)
	require.NoError(t, err)
	assert.Equal(t, VerdictDrop, verdict)
}

func TestDefaultPolicyOnMiss(t *testing.T) {
	c, _, _ := newHarness()
	hdr := PacketHeader{SrcIP: 9, DstIP: 10, SrcPort: 1, DstPort: 2, Protocol: wire.ProtoUDP, Length: 1}
	verdict, err := c.Classify(hdr)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, verdict)
}

func TestRateLimitOverridesToDrop(t *testing.T) {
	c, _, store := newHarness()
	_, err := store.Add(&rulestore.Rule{
		Action:    rulestore.ActionAllow,
		SrcNet:    anyNet(),
		DstNet:    hostNet("10.0.0.5"),
		DstPort:   443,
		Protocol:  rulestore.ProtocolTCP,
		Direction: rulestore.DirectionInbound,
		Priority:  100,
		Enabled:   true,
		RateLimit: 1,
	})
	require.NoError(t, err)

	hdr := PacketHeader{SrcIP: ipToUint32(t, "203.0.113.9"), DstIP: ipToUint32(t, "10.0.0.5"), SrcPort: 5000, DstPort: 443, Protocol: wire.ProtoTCP, Length: 64}

	first, err := c.Classify(hdr)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, first)

	second, err := c.Classify(hdr)
	require.NoError(t, err)
	assert.Equal(t, VerdictDrop, second)
}

func TestStatsIncrementOnEveryClassify(t *testing.T) {
	c, sub, _ := newHarness()
	hdr := PacketHeader{SrcIP: 1, DstIP: 2, SrcPort: 1, DstPort: 2, Protocol: wire.ProtoUDP, Length: 10}
	_, err := c.Classify(hdr)
	require.NoError(t, err)
	_, err = c.Classify(hdr)
	require.NoError(t, err)

	rec, err := sub.ReadStats(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.TotalPackets)
	assert.Equal(t, uint64(2), rec.AllowCount)
}

func TestGeoIPCriterionWithoutResolverNeverMatches(t *testing.T) {
	c, _, store := newHarness()
	_, err := store.Add(&rulestore.Rule{
		Action:       rulestore.ActionDrop,
		SrcNet:       anyNet(),
		DstNet:       hostNet("10.0.0.5"),
		DstPort:      443,
		Protocol:     rulestore.ProtocolTCP,
		Direction:    rulestore.DirectionInbound,
		Priority:     100,
		Enabled:      true,
		GeoIPCountry: []string{"CN"},
	})
	require.NoError(t, err)

	hdr := PacketHeader{SrcIP: ipToUint32(t, "203.0.113.9"), DstIP: ipToUint32(t, "10.0.0.5"), SrcPort: 5000, DstPort: 443, Protocol: wire.ProtoTCP, Length: 64}
	verdict, err := c.Classify(hdr)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, verdict)
}

func ipToUint32(t *testing.T, s string) uint32 {
	t.Helper()
	ip := net.ParseIP(s).To4()
	require.NotNil(t, ip)
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
