package address

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// ErrNoAddress is matched by every NoAddressError.
var ErrNoAddress = errors.New("no global IPv4 address")

// NoAddressError reports that no usable host address was found.
type NoAddressError struct {
	Interface string
}

func (e *NoAddressError) Error() string {
	if e.Interface == "" {
		return "no global IPv4 address found on the default interface"
	}
	return fmt.Sprintf("no global IPv4 address found on interface %s", e.Interface)
}

func (e *NoAddressError) Is(target error) bool {
	return target == ErrNoAddress
}

// Resolver discovers the host address that NAT rules are anchored to.
type Resolver interface {
	Resolve() (net.IP, error)
}

// Static always resolves to a fixed address.
type Static struct {
	IP net.IP
}

func (s Static) Resolve() (net.IP, error) {
	ip := s.IP.To4()
	if ip == nil {
		return nil, &NoAddressError{}
	}
	return ip, nil
}

// NewResolver returns a Static resolver when hostAddress is set, otherwise a
// resolver that queries the kernel for the address of iface (empty for the
// default route interface).
func NewResolver(iface, hostAddress string, logger *zap.Logger) (Resolver, error) {
	if hostAddress != "" {
		ip := net.ParseIP(hostAddress).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid host address %q", hostAddress)
		}
		logger.Debug("using static host address", zap.String("address", ip.String()))
		return Static{IP: ip}, nil
	}
	return newSystemResolver(iface, logger), nil
}
