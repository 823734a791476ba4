package safehttp

import (
	"context"
	"net"
	"strings"
	"testing"
)

func TestDenied(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"172.16.5.4", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := Denied(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("Denied(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestDialContext_RefusesLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	conn, err := DialContext(context.Background(), "tcp", ln.Addr().String())
	if err == nil {
		conn.Close()
		t.Fatal("DialContext() connected to a loopback address")
	}
	if !strings.Contains(err.Error(), "denied") {
		t.Errorf("error = %v, want denial", err)
	}
}
