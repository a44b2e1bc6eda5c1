// Package natutil discovers and configures a port mapping for the DHT's UDP
// listener (spec.md §9's NAT traversal discussion). It mirrors the shape of
// the teacher's p2p/nat package: a small Interface with UPnP, NAT-PMP, and
// static "I already know my external IP" implementations, selected from a
// single descriptor string the way the teacher's nat.Parse does.
package natutil

import (
	"fmt"
	"net"
	"strings"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/huin/goupnp/dcps/internetgateway1"
)

// Interface abstracts over "no NAT device", a literal known external IP, and
// the two automatic discovery protocols the teacher's go.mod carries
// dependencies for.
type Interface interface {
	// ExternalIP returns the internet-facing address a mapping would be
	// reachable at.
	ExternalIP() (net.IP, error)
	// AddMapping requests that port udpPort on this host be forwarded from
	// the gateway's external udpPort, valid for lifetime.
	AddMapping(desc string, udpPort int, lifetime time.Duration) error
	String() string
}

// Parse interprets a descriptor the way the teacher's command-line -nat flag
// does: "none", "any", "upnp", "pmp", or "extip:<ip>".
func Parse(desc string) (Interface, error) {
	switch {
	case desc == "" || desc == "none":
		return nil, nil
	case desc == "any":
		if u, err := discoverUPnP(); err == nil {
			return u, nil
		}
		if p, err := discoverPMP(); err == nil {
			return p, nil
		}
		return nil, fmt.Errorf("natutil: no UPnP or NAT-PMP gateway found")
	case desc == "upnp":
		return discoverUPnP()
	case desc == "pmp":
		return discoverPMP()
	case strings.HasPrefix(desc, "extip:"):
		ip := net.ParseIP(strings.TrimPrefix(desc, "extip:"))
		if ip == nil {
			return nil, fmt.Errorf("natutil: invalid IP in %q", desc)
		}
		return ExtIP(ip), nil
	default:
		return nil, fmt.Errorf("natutil: unknown mechanism %q", desc)
	}
}

// ExtIP is a static Interface for operators who already know their reachable
// address (e.g. a cloud instance's floating IP) and don't need discovery.
type ExtIP net.IP

func (e ExtIP) ExternalIP() (net.IP, error)                        { return net.IP(e), nil }
func (e ExtIP) AddMapping(string, int, time.Duration) error         { return nil }
func (e ExtIP) String() string                                      { return fmt.Sprintf("extip(%v)", net.IP(e)) }

type upnpNAT struct {
	client *internetgateway1.WANIPConnection1
}

func discoverUPnP() (Interface, error) {
	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil {
		return nil, fmt.Errorf("natutil: upnp discovery: %w", err)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("natutil: no UPnP gateway found")
	}
	return &upnpNAT{client: clients[0]}, nil
}

func (u *upnpNAT) ExternalIP() (net.IP, error) {
	s, err := u.client.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("natutil: gateway returned invalid IP %q", s)
	}
	return ip, nil
}

func (u *upnpNAT) AddMapping(desc string, udpPort int, lifetime time.Duration) error {
	ip, err := internalAddr()
	if err != nil {
		return err
	}
	return u.client.AddPortMapping("", uint16(udpPort), "UDP", uint16(udpPort), ip.String(), true, desc, uint32(lifetime/time.Second))
}

func (u *upnpNAT) String() string { return "UPnP" }

type pmpNAT struct {
	client  *natpmp.Client
	gateway net.IP
}

func discoverPMP() (Interface, error) {
	gw, err := defaultGateway()
	if err != nil {
		return nil, fmt.Errorf("natutil: finding default gateway: %w", err)
	}
	return &pmpNAT{client: natpmp.NewClient(gw), gateway: gw}, nil
}

func (p *pmpNAT) ExternalIP() (net.IP, error) {
	res, err := p.client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	return net.IPv4(res.ExternalIPAddress[0], res.ExternalIPAddress[1], res.ExternalIPAddress[2], res.ExternalIPAddress[3]), nil
}

func (p *pmpNAT) AddMapping(desc string, udpPort int, lifetime time.Duration) error {
	_, err := p.client.AddPortMapping("udp", udpPort, udpPort, int(lifetime/time.Second))
	return err
}

func (p *pmpNAT) String() string { return fmt.Sprintf("NAT-PMP(%v)", p.gateway) }

// internalAddr returns this host's LAN-facing address, used as the mapping's
// internal target.
func internalAddr() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("natutil: determining local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// defaultGateway guesses the LAN gateway as the internal address's /24
// network's .1 host, matching the teacher's simplifying assumption for
// NAT-PMP discovery on typical home routers.
func defaultGateway() (net.IP, error) {
	local, err := internalAddr()
	if err != nil {
		return nil, err
	}
	v4 := local.To4()
	if v4 == nil {
		return nil, fmt.Errorf("natutil: local address %v is not IPv4", local)
	}
	gw := make(net.IP, 4)
	copy(gw, v4)
	gw[3] = 1
	return gw, nil
}
