package audit

import "net/netip"

// AnonymizeIP truncates an address before it is stored: IPv4 keeps its
// first 24 bits and IPv6 its first 48. IPv4-mapped IPv6 addresses are
// treated as IPv4. Invalid input yields "".
func AnonymizeIP(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return ""
	}
	addr = addr.Unmap().WithZone("")
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}
