package group

import (
	"context"
	"fmt"
	"net"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy"
)

// Selector's current member is mutated only by the control plane; dial
// always uses whatever that member currently is (spec section 4.5).
type Selector struct{ base }

func NewSelector(name string, members []Member) *Selector {
	s := &Selector{base{name: name, kind: proxy.Kind("selector"), members: members}}
	if len(members) > 0 {
		s.setCurrent(members[0])
	}
	return s
}

func (s *Selector) Touch() {}

// Select switches the selector's current member by name; this is the only
// mutation path (spec section 4.5) and is normally invoked from the
// control plane's PUT /proxies/{name}.
func (s *Selector) Select(name string) error {
	for _, m := range s.members {
		if m.Name() == name {
			s.setCurrent(m)
			return nil
		}
	}
	return errcat.ControlErr.Newr(errcat.ReasonNotFound, fmt.Sprintf("no such member: %s", name))
}

func (s *Selector) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	target, err := Resolve(ctx, s, m)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}
	return target.DialTCP(ctx, m)
}

func (s *Selector) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	target, err := Resolve(ctx, s, m)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}
	return target.DialUDP(ctx, m)
}
