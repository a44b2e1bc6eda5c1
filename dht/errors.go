package dht

import "errors"

// Sentinel errors for the five error kinds spec.md §7 distinguishes. Callers
// use errors.Is against these; wrapped context is added with fmt.Errorf's %w,
// following the teacher's plain errors.New/fmt.Errorf idiom rather than a
// custom error-wrapping framework.
var (
	// ErrTransport covers socket-not-bound and datagram-send failures:
	// fatal to the operation in progress, not to the Node.
	ErrTransport = errors.New("dht: transport error")

	// ErrRPCTimeout is returned when an outstanding request exceeds
	// RPCTimeout without a matching response.
	ErrRPCTimeout = errors.New("dht: rpc timeout")

	// ErrRemote wraps an error tuple reported back by a peer.
	ErrRemote = errors.New("dht: remote error")

	// ErrValidation covers malformed compact addresses, invalid IPv4,
	// out-of-range ports, and wrong-length node IDs.
	ErrValidation = errors.New("dht: validation error")

	// ErrProtocolFatal covers undecodable bencode from a peer: the
	// datagram is dropped and unrelated state is untouched.
	ErrProtocolFatal = errors.New("dht: protocol-fatal error")

	// ErrBucketFull names the bucket-at-capacity condition. kBucket.addPeer
	// reports that condition as the addedFull outcome rather than returning
	// this error.
	ErrBucketFull = errors.New("dht: bucket full")

	// ErrNoUsableExternalIP is the one hard failure condition for
	// announce_blob (spec.md §7).
	ErrNoUsableExternalIP = errors.New("dht: no usable external ip")

	// ErrTokenInvalid names the missing-or-expired store() token condition.
	// Node's store handler answers that case with a RemoteError of class
	// "InvalidToken" rather than returning this error.
	ErrTokenInvalid = errors.New("dht: invalid or expired token")

	// ErrClosed names the use-after-Close/Stop condition; no operation in
	// this package returns it.
	ErrClosed = errors.New("dht: closed")
)

// RemoteError is a typed ErrRemote carrying the class/message pair the peer
// reported, per the wire error tuple in spec.md §6.1.
type RemoteError struct {
	Class   string
	Message string
}

func (e *RemoteError) Error() string {
	return "dht: remote error: " + e.Class + ": " + e.Message
}

func (e *RemoteError) Unwrap() error { return ErrRemote }
