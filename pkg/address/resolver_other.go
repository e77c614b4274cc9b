//go:build !linux

package address

import (
	"fmt"
	"net"

	"go.uber.org/zap"
)

// netResolver uses the portable net package where netlink is unavailable.
type netResolver struct {
	iface  string
	logger *zap.Logger
}

func newSystemResolver(iface string, logger *zap.Logger) Resolver {
	return &netResolver{iface: iface, logger: logger}
}

func (r *netResolver) Resolve() (net.IP, error) {
	var ifaces []net.Interface
	if r.iface != "" {
		iface, err := net.InterfaceByName(r.iface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", r.iface, err)
		}
		ifaces = []net.Interface{*iface}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("failed to list interfaces: %w", err)
		}
		ifaces = all
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && ip.IsGlobalUnicast() {
				r.logger.Debug("resolved host address",
					zap.String("interface", iface.Name),
					zap.String("address", ip.String()),
				)
				return ip, nil
			}
		}
	}
	return nil, &NoAddressError{Interface: r.iface}
}
