package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Wire values of the "type" field.
const (
	typeJoin         = "join"
	typeOffer        = "offer"
	typeAnswer       = "answer"
	typeICECandidate = "ice-candidate"
	typeJoinAck      = "join_ack"
	typeError        = "error"
)

const joinAckMessage = "Join acknowledged"

var (
	errNotObject    = errors.New("signaling: message is not a JSON object")
	errInvalidUTF8  = errors.New("signaling: message is not valid UTF-8")
	errTrailingData = errors.New("signaling: unexpected trailing data")
)

// messageKind is the closed set of inbound message kinds a session dispatches
// on.
type messageKind int

const (
	kindUnknown messageKind = iota
	kindJoin
	kindOffer
	kindAnswer
	kindICECandidate
)

func parseKind(t string) messageKind {
	switch t {
	case typeJoin:
		return kindJoin
	case typeOffer:
		return kindOffer
	case typeAnswer:
		return kindAnswer
	case typeICECandidate:
		return kindICECandidate
	default:
		return kindUnknown
	}
}

func (k messageKind) String() string {
	switch k {
	case kindJoin:
		return typeJoin
	case kindOffer:
		return typeOffer
	case kindAnswer:
		return typeAnswer
	case kindICECandidate:
		return typeICECandidate
	default:
		return "unknown"
	}
}

// isRelay reports whether messages of this kind are broadcast to the room.
func (k messageKind) isRelay() bool {
	return k == kindOffer || k == kindAnswer || k == kindICECandidate
}

// inboundMessage is a client message. Role and Code are pointers so an absent
// or null value can be told apart from an empty string. Type is kept raw so a
// missing or non-string type still gets an error reply.
type inboundMessage struct {
	Type json.RawMessage `json:"type"`
	Role *string         `json:"role"`
	Code *string         `json:"code"`
	Data json.RawMessage `json:"data"`
}

// parseInbound decodes a single JSON object. Unknown fields are ignored.
// The whole frame must be valid UTF-8 since data is relayed verbatim.
func parseInbound(data []byte) (inboundMessage, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return inboundMessage{}, errNotObject
	}
	if !utf8.Valid(data) {
		return inboundMessage{}, errInvalidUTF8
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var msg inboundMessage
	if err := dec.Decode(&msg); err != nil {
		return inboundMessage{}, fmt.Errorf("signaling: decode message: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return inboundMessage{}, errTrailingData
	}
	return msg, nil
}

func (m inboundMessage) kind() messageKind {
	name, ok := m.typeName()
	if !ok {
		return kindUnknown
	}
	return parseKind(name)
}

// typeName returns the type when it is a JSON string.
func (m inboundMessage) typeName() (string, bool) {
	if len(m.Type) == 0 || m.Type[0] != '"' {
		return "", false
	}
	var name string
	if err := json.Unmarshal(m.Type, &name); err != nil {
		return "", false
	}
	return name, true
}

// typeLabel renders the type for logs and error replies. An absent or null
// type reads as None; other non-string values are shown as compact JSON.
func (m inboundMessage) typeLabel() string {
	if name, ok := m.typeName(); ok {
		return name
	}
	if len(m.Type) == 0 || bytes.Equal(m.Type, []byte("null")) {
		return "None"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, m.Type); err != nil {
		return string(m.Type)
	}
	return buf.String()
}

// codeMatches reports whether the message names room. A missing code never
// matches.
func (m inboundMessage) codeMatches(room string) bool {
	return m.Code != nil && *m.Code == room
}

// Outbound messages. Field order is part of the wire format.

type joinAckMessageWire struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Role    *string `json:"role"`
	Code    string  `json:"code"`
}

type relayMessageWire struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Role *string         `json:"role"`
	Code string          `json:"code"`
}

type errorMessageWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func encodeJoinAck(role *string, room string) ([]byte, error) {
	return encodeWire(joinAckMessageWire{
		Type:    typeJoinAck,
		Message: joinAckMessage,
		Role:    role,
		Code:    room,
	})
}

// encodeRelay re-frames an offer, answer or candidate. data is passed
// through untouched; a missing data field is sent as null.
func encodeRelay(msgType string, data json.RawMessage, role *string, room string) ([]byte, error) {
	if len(data) == 0 {
		data = nil
	}
	return encodeWire(relayMessageWire{
		Type: msgType,
		Data: data,
		Role: role,
		Code: room,
	})
}

func encodeUnknownType(msgType string, room string) ([]byte, error) {
	return encodeWire(errorMessageWire{
		Type:    typeError,
		Message: "Unknown message type: " + msgType,
		Code:    room,
	})
}

func encodeWire(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
