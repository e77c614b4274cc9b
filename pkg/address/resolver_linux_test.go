//go:build linux

package address

import (
	"errors"
	"net"
	"testing"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

func mustIPNet(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		t.Fatalf("ParseCIDR(%q) failed: %v", cidr, err)
	}
	ipNet.IP = ip
	return ipNet
}

func testLink(name string, index int) netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Index: index}}
}

// newFakeNetlinkResolver wires a resolver to in-memory links, addresses and routes.
func newFakeNetlinkResolver(iface string, links []netlink.Link, addrs map[int][]netlink.Addr, routes []netlink.Route) *netlinkResolver {
	return &netlinkResolver{
		iface:  iface,
		logger: zap.NewNop(),
		linkByName: func(name string) (netlink.Link, error) {
			for _, link := range links {
				if link.Attrs().Name == name {
					return link, nil
				}
			}
			return nil, errors.New("link not found")
		},
		linkByIndex: func(index int) (netlink.Link, error) {
			for _, link := range links {
				if link.Attrs().Index == index {
					return link, nil
				}
			}
			return nil, errors.New("link not found")
		},
		addrList: func(link netlink.Link, family int) ([]netlink.Addr, error) {
			if link == nil {
				var all []netlink.Addr
				for _, l := range links {
					all = append(all, addrs[l.Attrs().Index]...)
				}
				return all, nil
			}
			return addrs[link.Attrs().Index], nil
		},
		routeList: func(link netlink.Link, family int) ([]netlink.Route, error) {
			return routes, nil
		},
	}
}

func TestNetlinkResolver_NamedInterface(t *testing.T) {
	links := []netlink.Link{testLink("lo", 1), testLink("eth0", 2)}
	addrs := map[int][]netlink.Addr{
		1: {{IPNet: mustIPNet(t, "127.0.0.1/8"), Scope: int(netlink.SCOPE_HOST)}},
		2: {
			{IPNet: mustIPNet(t, "169.254.3.3/16"), Scope: int(netlink.SCOPE_LINK)},
			{IPNet: mustIPNet(t, "10.0.0.5/24"), Scope: int(netlink.SCOPE_UNIVERSE)},
			{IPNet: mustIPNet(t, "10.0.0.6/24"), Scope: int(netlink.SCOPE_UNIVERSE)},
		},
	}
	r := newFakeNetlinkResolver("eth0", links, addrs, nil)

	ip, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ip.String() != "10.0.0.5" {
		t.Errorf("expected first global address 10.0.0.5, got %s", ip)
	}
}

func TestNetlinkResolver_DefaultRouteInterface(t *testing.T) {
	links := []netlink.Link{testLink("eth0", 2), testLink("eth1", 3)}
	addrs := map[int][]netlink.Addr{
		2: {{IPNet: mustIPNet(t, "10.0.0.5/24"), Scope: int(netlink.SCOPE_UNIVERSE)}},
		3: {{IPNet: mustIPNet(t, "172.16.0.9/16"), Scope: int(netlink.SCOPE_UNIVERSE)}},
	}
	routes := []netlink.Route{
		{LinkIndex: 2, Dst: mustIPNet(t, "10.0.0.0/24")},
		{LinkIndex: 3, Dst: nil},
	}
	r := newFakeNetlinkResolver("", links, addrs, routes)

	ip, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ip.String() != "172.16.0.9" {
		t.Errorf("expected default route interface address 172.16.0.9, got %s", ip)
	}
}

func TestNetlinkResolver_ExplicitZeroDefaultRoute(t *testing.T) {
	links := []netlink.Link{testLink("eth0", 2), testLink("eth1", 3)}
	addrs := map[int][]netlink.Addr{
		2: {{IPNet: mustIPNet(t, "10.0.0.5/24"), Scope: int(netlink.SCOPE_UNIVERSE)}},
		3: {{IPNet: mustIPNet(t, "172.16.0.9/16"), Scope: int(netlink.SCOPE_UNIVERSE)}},
	}
	routes := []netlink.Route{{LinkIndex: 2, Dst: mustIPNet(t, "0.0.0.0/0")}}
	r := newFakeNetlinkResolver("", links, addrs, routes)

	ip, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ip.String() != "10.0.0.5" {
		t.Errorf("expected 10.0.0.5, got %s", ip)
	}
}

func TestNetlinkResolver_NoGlobalAddress(t *testing.T) {
	links := []netlink.Link{testLink("eth0", 2)}
	addrs := map[int][]netlink.Addr{
		2: {{IPNet: mustIPNet(t, "169.254.3.3/16"), Scope: int(netlink.SCOPE_LINK)}},
	}
	r := newFakeNetlinkResolver("eth0", links, addrs, nil)

	_, err := r.Resolve()
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
	var noAddr *NoAddressError
	if !errors.As(err, &noAddr) || noAddr.Interface != "eth0" {
		t.Errorf("expected NoAddressError for eth0, got %v", err)
	}
}

func TestNetlinkResolver_UnknownInterface(t *testing.T) {
	r := newFakeNetlinkResolver("wlan9", nil, nil, nil)
	if _, err := r.Resolve(); err == nil {
		t.Fatal("expected error for unknown interface, got nil")
	}
}

func TestNetlinkResolver_NoDefaultRouteUsesAllLinks(t *testing.T) {
	links := []netlink.Link{testLink("lo", 1), testLink("eth0", 2)}
	addrs := map[int][]netlink.Addr{
		1: {{IPNet: mustIPNet(t, "127.0.0.1/8"), Scope: int(netlink.SCOPE_HOST)}},
		2: {{IPNet: mustIPNet(t, "192.168.1.20/24"), Scope: int(netlink.SCOPE_UNIVERSE)}},
	}
	r := newFakeNetlinkResolver("", links, addrs, nil)

	ip, err := r.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ip.String() != "192.168.1.20" {
		t.Errorf("expected 192.168.1.20, got %s", ip)
	}
}
