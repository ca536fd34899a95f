package find

import (
	"context"
	"fmt"
	"net"
	"slices"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

// Service types LXI instruments announce over mDNS.
const (
	ServiceSCPIRaw = "_scpi-raw._tcp"
	ServiceLXI     = "_lxi._tcp"
)

// LXIInstrument is an instrument found by mDNS browsing.
type LXIInstrument struct {
	Name string
	Host string
	Addr net.IP
	Port int
}

// Resource returns the VISA socket resource string for the instrument.
func (l LXIInstrument) Resource() string {
	host := l.Host
	if l.Addr != nil {
		host = l.Addr.String()
	}
	return fmt.Sprintf("TCPIP0::%s::%d::SOCKET", host, l.Port)
}

// LXI browses the local network for service until ctx is done and returns
// what answered, sorted by name. An empty service means ServiceSCPIRaw.
func LXI(ctx context.Context, service string) ([]LXIInstrument, error) {
	if service == "" {
		service = ServiceSCPIRaw
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating mDNS resolver")
	}
	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []LXIInstrument, 1)
	go func() {
		var out []LXIInstrument
		for e := range entries {
			out = append(out, fromEntry(e))
		}
		found <- out
	}()
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, errors.Wrapf(err, "browsing %s", service)
	}
	<-ctx.Done()
	out := <-found
	slices.SortFunc(out, func(a, b LXIInstrument) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

func fromEntry(e *zeroconf.ServiceEntry) LXIInstrument {
	inst := LXIInstrument{
		Name: e.Instance,
		Host: e.HostName,
		Port: e.Port,
	}
	if len(e.AddrIPv4) > 0 {
		inst.Addr = e.AddrIPv4[0]
	}
	return inst
}
