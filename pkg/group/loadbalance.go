package group

import (
	"context"
	"hash/fnv"
	"net"
	"sync/atomic"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy"
)

// Policy selects how LoadBalance picks a member for each dial.
type Policy string

const (
	PolicyRoundRobin     Policy = "round-robin"
	PolicyConsistentHash Policy = "consistent-hash"
)

// LoadBalance has no sticky current; every dial picks a member per Policy
// (spec section 4.5). The consistent-hash variant guarantees the same
// dest_host maps to the same member as long as the alive member set is
// unchanged.
type LoadBalance struct {
	base
	Policy Policy

	rrCounter uint64
}

func NewLoadBalance(name string, members []Member, policy Policy) *LoadBalance {
	if policy == "" {
		policy = PolicyRoundRobin
	}
	return &LoadBalance{
		base:   base{name: name, kind: proxy.Kind("load-balance"), members: members},
		Policy: policy,
	}
}

func (lb *LoadBalance) Touch() {}

// Now picks a member by the configured policy so Resolve() can treat
// LoadBalance the same as any other Group. Under round-robin it advances
// the same counter a dial does; under consistent hashing it returns the
// first alive member, not the per-destination choice.
func (lb *LoadBalance) Now() Member {
	alive := lb.aliveMembers()
	if len(alive) == 0 {
		return nil
	}
	if lb.Policy == PolicyConsistentHash {
		return alive[0] // refined per-destination in pick()
	}
	n := atomic.AddUint64(&lb.rrCounter, 1)
	return alive[int(n-1)%len(alive)]
}

func (lb *LoadBalance) aliveMembers() []Member {
	alive := make([]Member, 0, len(lb.members))
	for _, m := range lb.members {
		if m.Alive() {
			alive = append(alive, m)
		}
	}
	if len(alive) == 0 {
		return lb.members
	}
	return alive
}

// pick resolves the member for this specific dial, applying the
// consistent-hash policy against dest_host when configured.
func (lb *LoadBalance) pick(meta *metadata.Metadata) Member {
	alive := lb.aliveMembers()
	if len(alive) == 0 {
		return nil
	}
	if lb.Policy != PolicyConsistentHash {
		n := atomic.AddUint64(&lb.rrCounter, 1)
		return alive[int(n-1)%len(alive)]
	}
	key := meta.Host()
	if key == "" {
		key = meta.DestIP.String()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return alive[int(h.Sum32())%len(alive)]
}

func (lb *LoadBalance) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	target, err := lb.resolvePick(ctx, m)
	if err != nil {
		return nil, err
	}
	return target.DialTCP(ctx, m)
}

func (lb *LoadBalance) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	target, err := lb.resolvePick(ctx, m)
	if err != nil {
		return nil, err
	}
	return target.DialUDP(ctx, m)
}

// resolvePick picks a member via pick() (which is policy- and
// destination-aware, unlike the generic Now() path) then recurses through
// Resolve in case that member is itself a nested group.
func (lb *LoadBalance) resolvePick(ctx context.Context, meta *metadata.Metadata) (proxy.Proxy, error) {
	m := lb.pick(meta)
	if m == nil {
		return nil, errcat.RuleErr.Newr(errcat.ReasonUnknown, "load-balance group has no alive member: "+lb.name)
	}
	visited := map[string]bool{lb.name: true}
	return resolve(ctx, m, meta, visited, 1)
}
