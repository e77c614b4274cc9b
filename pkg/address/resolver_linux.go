//go:build linux

package address

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// netlinkResolver reads interface addresses from the kernel via netlink.
type netlinkResolver struct {
	iface  string
	logger *zap.Logger

	linkByName  func(name string) (netlink.Link, error)
	linkByIndex func(index int) (netlink.Link, error)
	addrList    func(link netlink.Link, family int) ([]netlink.Addr, error)
	routeList   func(link netlink.Link, family int) ([]netlink.Route, error)
}

func newSystemResolver(iface string, logger *zap.Logger) Resolver {
	return &netlinkResolver{
		iface:       iface,
		logger:      logger,
		linkByName:  netlink.LinkByName,
		linkByIndex: netlink.LinkByIndex,
		addrList:    netlink.AddrList,
		routeList:   netlink.RouteList,
	}
}

// Resolve returns the first global-scope IPv4 address of the configured
// interface, or of the default route interface when none is configured.
func (r *netlinkResolver) Resolve() (net.IP, error) {
	link, err := r.link()
	if err != nil {
		return nil, err
	}

	addrs, err := r.addrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}

	ip := firstGlobalIPv4(addrs)
	if ip == nil {
		return nil, &NoAddressError{Interface: r.iface}
	}

	r.logger.Debug("resolved host address",
		zap.String("interface", r.iface),
		zap.String("address", ip.String()),
	)
	return ip, nil
}

// link returns the interface to inspect; nil means all interfaces.
func (r *netlinkResolver) link() (netlink.Link, error) {
	if r.iface != "" {
		link, err := r.linkByName(r.iface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", r.iface, err)
		}
		return link, nil
	}

	routes, err := r.routeList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	for _, route := range routes {
		if !isDefaultRoute(route) || route.LinkIndex <= 0 {
			continue
		}
		link, err := r.linkByIndex(route.LinkIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to find default route interface: %w", err)
		}
		return link, nil
	}

	r.logger.Debug("no IPv4 default route, considering all interfaces")
	return nil, nil
}

func isDefaultRoute(route netlink.Route) bool {
	if route.Dst == nil {
		return true
	}
	ones, _ := route.Dst.Mask.Size()
	return ones == 0 && route.Dst.IP.IsUnspecified()
}

func firstGlobalIPv4(addrs []netlink.Addr) net.IP {
	for _, addr := range addrs {
		if addr.IPNet == nil || addr.Scope != int(netlink.SCOPE_UNIVERSE) {
			continue
		}
		if ip := addr.IP.To4(); ip != nil {
			return ip
		}
	}
	return nil
}
