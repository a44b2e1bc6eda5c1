package dht

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/lbryio/go-dht/internal/netaddr"
)

// PeerInfo is the triple (node_id, address, udp_port) plus optional tcp_port
// and protocol_version metadata (spec.md §3). Equality and hashing are over
// (address, node_id, udp_port) only — tcp_port never participates.
//
// PeerInfo is a value type: 48 + 4 + 2 + 2 + 1 bytes, cheap to copy. Every
// container that references a peer (routing table, data store, peer manager,
// finders) stores an owned copy rather than a shared pointer (spec.md §9).
type PeerInfo struct {
	NodeID          NodeID
	HasNodeID       bool
	Address         [4]byte // big-endian IPv4
	UDPPort         int
	TCPPort         int // 0 means absent
	ProtocolVersion uint8
}

// PeerOption configures NewPeerInfo.
type PeerOption func(*peerOptions)

type peerOptions struct {
	allowLocalhost bool
}

// AllowLocalhost opts a PeerInfo construction out of the public-IPv4 check,
// for use in tests that run entirely on loopback (spec.md §3).
func AllowLocalhost() PeerOption {
	return func(o *peerOptions) { o.allowLocalhost = true }
}

// NewPeerInfo constructs a validated PeerInfo. address must be a public IPv4
// address unless AllowLocalhost() is passed; udpPort (and tcpPort, if
// nonzero) must fall in 1024..=65535. id may be the zero value to represent
// an unknown node_id (e.g. a bootstrap seed prior to its first reply).
func NewPeerInfo(id NodeID, hasID bool, address net.IP, udpPort, tcpPort int, opts ...PeerOption) (PeerInfo, error) {
	var o peerOptions
	for _, opt := range opts {
		opt(&o)
	}

	v4 := address.To4()
	if v4 == nil {
		return PeerInfo{}, fmt.Errorf("%w: address %v is not IPv4", ErrValidation, address)
	}
	if err := netaddr.ValidatePublicIPv4(v4, o.allowLocalhost); err != nil {
		return PeerInfo{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validatePort(udpPort); err != nil {
		return PeerInfo{}, fmt.Errorf("%w: udp_port: %v", ErrValidation, err)
	}
	if tcpPort != 0 {
		if err := validatePort(tcpPort); err != nil {
			return PeerInfo{}, fmt.Errorf("%w: tcp_port: %v", ErrValidation, err)
		}
	}

	p := PeerInfo{
		NodeID:          id,
		HasNodeID:       hasID,
		UDPPort:         udpPort,
		TCPPort:         tcpPort,
		ProtocolVersion: ProtocolVersion,
	}
	copy(p.Address[:], v4)
	return p, nil
}

func validatePort(port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1024..=65535", ErrValidation, port)
	}
	return nil
}

// IP returns the peer's address as a net.IP.
func (p PeerInfo) IP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, p.Address[:])
	return ip
}

// UDPAddr returns the peer's UDP endpoint.
func (p PeerInfo) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: p.IP(), Port: p.UDPPort}
}

// Key is the triple PeerInfo equality/hashing is defined over: (address,
// node_id, udp_port). It's comparable and usable as a map key.
type Key struct {
	Address [4]byte
	NodeID  NodeID
	UDPPort int
}

// TripleKey returns p's equality key.
func (p PeerInfo) TripleKey() Key {
	return Key{Address: p.Address, NodeID: p.NodeID, UDPPort: p.UDPPort}
}

// Equal reports whether two PeerInfo values share the same triple key.
func (p PeerInfo) Equal(o PeerInfo) bool {
	return p.TripleKey() == o.TripleKey()
}

// EndpointKey identifies a peer by (address, udp_port) alone, used by
// PeerManager's endpoint-keyed caches.
type EndpointKey struct {
	Address [4]byte
	UDPPort int
}

// Endpoint returns p's (address, udp_port) key.
func (p PeerInfo) Endpoint() EndpointKey {
	return EndpointKey{Address: p.Address, UDPPort: p.UDPPort}
}

// InferTCPPort fills in TCPPort from UDPPort using the supplied heuristic
// when TCPPort is unset. This is the parameterized form of spec.md §9's
// legacy-network open question: callers choose whether to apply it at all.
func (p PeerInfo) InferTCPPort(heuristic PortHeuristic) PeerInfo {
	if p.TCPPort != 0 || heuristic == nil {
		return p
	}
	if tcp, ok := heuristic(p.UDPPort); ok {
		p.TCPPort = tcp
	}
	return p
}

// --- Compact address encoding (spec.md §6.1) ---

// compactUDPLen is the size of a compact UDP triple: node_id(48) ||
// ip(4) || udp_port(2, big-endian).
const compactUDPLen = HashLength + 4 + 2

// compactTCPLen is the size of a compact TCP address: ip(4) || tcp_port(2).
const compactTCPLen = 4 + 2

// EncodeCompactUDP packs p as a 54-byte compact UDP triple. p must carry a
// node_id.
func EncodeCompactUDP(p PeerInfo) ([]byte, error) {
	if !p.HasNodeID {
		return nil, fmt.Errorf("%w: cannot encode compact triple without a node id", ErrValidation)
	}
	buf := make([]byte, compactUDPLen)
	copy(buf[:HashLength], p.NodeID[:])
	copy(buf[HashLength:HashLength+4], p.Address[:])
	binary.BigEndian.PutUint16(buf[HashLength+4:], uint16(p.UDPPort))
	return buf, nil
}

// DecodeCompactUDP unpacks a 54-byte compact UDP triple into a PeerInfo.
func DecodeCompactUDP(buf []byte, opts ...PeerOption) (PeerInfo, error) {
	if len(buf) != compactUDPLen {
		return PeerInfo{}, fmt.Errorf("%w: compact udp triple must be %d bytes, got %d", ErrValidation, compactUDPLen, len(buf))
	}
	id, err := NodeIDFromBytes(buf[:HashLength])
	if err != nil {
		return PeerInfo{}, err
	}
	ip := net.IPv4(buf[HashLength], buf[HashLength+1], buf[HashLength+2], buf[HashLength+3])
	port := int(binary.BigEndian.Uint16(buf[HashLength+4:]))
	return NewPeerInfo(id, true, ip, port, 0, opts...)
}

// EncodeCompactTCP packs p's (address, tcp_port) as a 6-byte compact TCP
// address.
func EncodeCompactTCP(p PeerInfo) ([]byte, error) {
	if p.TCPPort == 0 {
		return nil, fmt.Errorf("%w: peer has no tcp_port", ErrValidation)
	}
	buf := make([]byte, compactTCPLen)
	copy(buf[:4], p.Address[:])
	binary.BigEndian.PutUint16(buf[4:], uint16(p.TCPPort))
	return buf, nil
}

// DecodeCompactTCP unpacks a 6-byte compact TCP address into an IP and port.
func DecodeCompactTCP(buf []byte) (net.IP, int, error) {
	if len(buf) != compactTCPLen {
		return nil, 0, fmt.Errorf("%w: compact tcp address must be %d bytes, got %d", ErrValidation, compactTCPLen, len(buf))
	}
	ip := net.IPv4(buf[0], buf[1], buf[2], buf[3])
	port := int(binary.BigEndian.Uint16(buf[4:]))
	return ip, port, nil
}

// BlobPeerAddr is a peer serving a blob, as returned by findValue: a bare
// (address, tcp_port) pair with no known node_id or UDP port (spec.md §4.5.2,
// §6.1 "TCP address"). It is a distinct type from PeerInfo because a value
// lookup's hits are, by construction, TCP-only contacts.
type BlobPeerAddr struct {
	Address [4]byte
	TCPPort int
}

// NewBlobPeerAddr validates and constructs a BlobPeerAddr.
func NewBlobPeerAddr(ip net.IP, tcpPort int, opts ...PeerOption) (BlobPeerAddr, error) {
	var o peerOptions
	for _, opt := range opts {
		opt(&o)
	}
	v4 := ip.To4()
	if v4 == nil {
		return BlobPeerAddr{}, fmt.Errorf("%w: address %v is not IPv4", ErrValidation, ip)
	}
	if err := netaddr.ValidatePublicIPv4(v4, o.allowLocalhost); err != nil {
		return BlobPeerAddr{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validatePort(tcpPort); err != nil {
		return BlobPeerAddr{}, fmt.Errorf("%w: tcp_port: %v", ErrValidation, err)
	}
	var b BlobPeerAddr
	copy(b.Address[:], v4)
	b.TCPPort = tcpPort
	return b, nil
}

// IP returns the peer's address as a net.IP.
func (b BlobPeerAddr) IP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, b.Address[:])
	return ip
}

// EncodeCompactTCP packs b as a 6-byte compact TCP address.
func (b BlobPeerAddr) EncodeCompactTCP() []byte {
	buf := make([]byte, compactTCPLen)
	copy(buf[:4], b.Address[:])
	binary.BigEndian.PutUint16(buf[4:], uint16(b.TCPPort))
	return buf
}
