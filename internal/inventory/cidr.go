package inventory

import (
	"math/big"
	"net"

	"github.com/pkg/errors"
	"github.com/projectdiscovery/mapcidr"
)

// MaxCIDRAddresses caps range targets (an IPv4 /16 or an IPv6 /112). Wider
// ranges are rejected before anything is allocated.
const MaxCIDRAddresses = 1 << 16

// expandCIDR lists the host addresses of an IPv4 or IPv6 range. For IPv4
// prefixes shorter than /31 the network and broadcast addresses are skipped.
func expandCIDR(cidr string) ([]string, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Wrap(err, "parse cidr")
	}
	if n := mapcidr.CountIPsInCIDR(true, true, network); n.Cmp(big.NewInt(MaxCIDRAddresses)) > 0 {
		return nil, errors.Errorf("range %s has %s addresses, max is %d", cidr, n, MaxCIDRAddresses)
	}
	ips, err := mapcidr.IPAddresses(network.String())
	if err != nil {
		return nil, errors.Wrapf(err, "expand %s", cidr)
	}

	ones, bits := network.Mask.Size()
	if bits != 32 || ones >= 31 {
		return ips, nil
	}

	out := make([]string, 0, len(ips))
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil || isNetworkOrBroadcast(ip, network) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func isNetworkOrBroadcast(ip net.IP, network *net.IPNet) bool {
	ip4 := ip.To4()
	base := network.IP.To4()
	if ip4 == nil || base == nil {
		return false
	}
	if ip4.Equal(base) {
		return true
	}
	broadcast := make(net.IP, len(base))
	copy(broadcast, base)
	for i := range broadcast {
		broadcast[i] |= ^network.Mask[i]
	}
	return ip4.Equal(broadcast)
}
