package find

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry("AFG1022 (1525069)", ServiceSCPIRaw, "local.")
	e.HostName = "afg1022.local."
	e.Port = 5025
	inst := fromEntry(e)
	if got, want := inst.Resource(), "TCPIP0::afg1022.local.::5025::SOCKET"; got != want {
		t.Errorf("resource = %q, want %q", got, want)
	}

	e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 30)}
	inst = fromEntry(e)
	if got, want := inst.Resource(), "TCPIP0::192.168.1.30::5025::SOCKET"; got != want {
		t.Errorf("resource = %q, want %q", got, want)
	}
	if inst.Name != "AFG1022 (1525069)" {
		t.Errorf("name = %q", inst.Name)
	}
}
