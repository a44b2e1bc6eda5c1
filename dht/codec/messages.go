// Package codec implements the bencode wire framing spec.md §6.1 defines:
// every UDP datagram is a bencoded list tagging itself as a request,
// response, or error. The package only concerns itself with the envelope —
// translating compact addresses and PeerInfo values lives in the parent dht
// package, which avoids an import cycle back into codec.
package codec

import (
	"fmt"

	"github.com/zeebo/bencode"
)

// Tag values identify a message's kind within the three-element (or
// five-element, for requests) top-level list.
const (
	TagRequest  = 0
	TagResponse = 1
	TagError    = 2
)

// Request is a decoded [request_id, 0, method, args, sender_args] message.
type Request struct {
	ID         []byte
	Method     string
	Args       []interface{}
	SenderArgs map[string]interface{}
}

// Response is a decoded [request_id, 1, result] message.
type Response struct {
	ID     []byte
	Result interface{}
}

// ErrorMessage is a decoded [request_id, 2, [class, message]] message.
type ErrorMessage struct {
	ID      []byte
	Class   string
	Message string
}

// EncodeRequest bencodes a request envelope.
func EncodeRequest(r Request) ([]byte, error) {
	args := r.Args
	if args == nil {
		args = []interface{}{}
	}
	senderArgs := r.SenderArgs
	if senderArgs == nil {
		senderArgs = map[string]interface{}{}
	}
	raw := []interface{}{r.ID, int64(TagRequest), []byte(r.Method), args, senderArgs}
	return bencode.EncodeBytes(raw)
}

// EncodeResponse bencodes a response envelope.
func EncodeResponse(r Response) ([]byte, error) {
	raw := []interface{}{r.ID, int64(TagResponse), r.Result}
	return bencode.EncodeBytes(raw)
}

// EncodeError bencodes an error envelope.
func EncodeError(e ErrorMessage) ([]byte, error) {
	raw := []interface{}{e.ID, int64(TagError), []interface{}{[]byte(e.Class), []byte(e.Message)}}
	return bencode.EncodeBytes(raw)
}

// Decode inspects a bencoded datagram and returns one of *Request,
// *Response, or *ErrorMessage depending on its tag field. Any structural
// mismatch (wrong arity, wrong element types, bad tag) is reported as a
// single decode error so the caller can treat it uniformly as a malformed
// (protocol-fatal) datagram.
func Decode(data []byte) (interface{}, error) {
	var raw []interface{}
	if err := bencode.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("codec: malformed datagram: %w", err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("codec: envelope too short: %d elements", len(raw))
	}

	id, ok := asBytes(raw[0])
	if !ok {
		return nil, fmt.Errorf("codec: request_id is not a byte string")
	}
	tag, ok := asInt(raw[1])
	if !ok {
		return nil, fmt.Errorf("codec: message tag is not an integer")
	}

	switch tag {
	case TagRequest:
		if len(raw) != 5 {
			return nil, fmt.Errorf("codec: request envelope must have 5 elements, got %d", len(raw))
		}
		method, ok := asBytes(raw[2])
		if !ok {
			return nil, fmt.Errorf("codec: method name is not a byte string")
		}
		args, ok := raw[3].([]interface{})
		if !ok {
			return nil, fmt.Errorf("codec: args is not a list")
		}
		senderArgs, ok := asStringMap(raw[4])
		if !ok {
			return nil, fmt.Errorf("codec: sender_args is not a dict")
		}
		return &Request{ID: id, Method: string(method), Args: args, SenderArgs: senderArgs}, nil

	case TagResponse:
		if len(raw) != 3 {
			return nil, fmt.Errorf("codec: response envelope must have 3 elements, got %d", len(raw))
		}
		return &Response{ID: id, Result: raw[2]}, nil

	case TagError:
		if len(raw) != 3 {
			return nil, fmt.Errorf("codec: error envelope must have 3 elements, got %d", len(raw))
		}
		pair, ok := raw[2].([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("codec: error payload must be a [class, message] pair")
		}
		class, ok1 := asBytes(pair[0])
		msg, ok2 := asBytes(pair[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("codec: error class/message must be byte strings")
		}
		return &ErrorMessage{ID: id, Class: string(class), Message: string(msg)}, nil

	default:
		return nil, fmt.Errorf("codec: unknown message tag %d", tag)
	}
}

func asBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	}
	return nil, false
}

func asInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	}
	return 0, false
}

func asStringMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
