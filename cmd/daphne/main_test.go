package main

import (
	"net"
	"testing"

	"github.com/cvsouth/daphne/rendezvous"
)

func TestCandidatesForOrdersPrivateBeforePublic(t *testing.T) {
	peer := rendezvous.FullContact{
		Private: rendezvous.Contact{
			V6: &net.TCPAddr{IP: net.ParseIP("fd00::1"), Port: 4000},
			V4: &net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 4000},
		},
		Public: rendezvous.Contact{
			V4: &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000},
		},
	}

	got := candidatesFor(peer)
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(got), got)
	}
	if got[0].Network != "tcp6" || got[0].Addr != peer.Private.V6.String() {
		t.Fatalf("candidate 0 = %+v, want private v6", got[0])
	}
	if got[1].Network != "tcp4" || got[1].Addr != peer.Private.V4.String() {
		t.Fatalf("candidate 1 = %+v, want private v4", got[1])
	}
	if got[2].Network != "tcp4" || got[2].Addr != peer.Public.V4.String() {
		t.Fatalf("candidate 2 = %+v, want public v4", got[2])
	}
}

func TestCandidatesForSkipsAbsentAddresses(t *testing.T) {
	peer := rendezvous.FullContact{
		Private: rendezvous.Contact{V4: &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 9000}},
	}
	got := candidatesFor(peer)
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(got), got)
	}
	if got[0].Network != "tcp4" {
		t.Fatalf("candidate = %+v, want tcp4", got[0])
	}
}

func TestChoosePortReturnsUsablePort(t *testing.T) {
	port, err := choosePort()
	if err != nil {
		t.Fatalf("choosePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("choosePort returned out-of-range port %d", port)
	}
}

func TestLocalAddrForDiscoversSourceIP(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no usable loopback listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	addr, err := localAddrFor("tcp4", ln.Addr().String(), 1234)
	if err != nil {
		t.Fatalf("localAddrFor: %v", err)
	}
	if addr.Port != 1234 {
		t.Fatalf("got port %d, want 1234", addr.Port)
	}
	if addr.IP == nil {
		t.Fatalf("got nil IP")
	}
}
