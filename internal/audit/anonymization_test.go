package audit

import "testing"

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ipv4", "192.168.1.100", "192.168.1.0"},
		{"ipv4 already truncated", "10.0.0.0", "10.0.0.0"},
		{"ipv4 broadcast octet", "172.16.254.255", "172.16.254.0"},
		{"ipv6", "2001:0db8:85a3:0000:0000:8a2e:0370:7334", "2001:db8:85a3::"},
		{"ipv6 compressed", "2001:db8:85a3::8a2e:370:7334", "2001:db8:85a3::"},
		{"ipv6 loopback", "::1", "::"},
		{"ipv4 mapped", "::ffff:203.0.113.195", "203.0.113.0"},
		{"zone dropped", "fe80::1%eth0", "fe80::"},
		{"empty", "", ""},
		{"hostname", "cafe.example.com", ""},
		{"with port", "192.168.1.1:8080", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnonymizeIP(tt.input); got != tt.want {
				t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
