package signaling

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := map[string]messageKind{
		"join":          kindJoin,
		"offer":         kindOffer,
		"answer":        kindAnswer,
		"ice-candidate": kindICECandidate,
		"join_ack":      kindUnknown,
		"Offer":         kindUnknown,
		"":              kindUnknown,
	}
	for in, want := range cases {
		if got := parseKind(in); got != want {
			t.Fatalf("parseKind(%q)=%v, want %v", in, got, want)
		}
	}

	for _, k := range []messageKind{kindOffer, kindAnswer, kindICECandidate} {
		if !k.isRelay() {
			t.Fatalf("%v should be relayed", k)
		}
		if parseKind(k.String()) != k {
			t.Fatalf("String/parseKind round trip failed for %v", k)
		}
	}
	if kindJoin.isRelay() || kindUnknown.isRelay() {
		t.Fatalf("join and unknown must not be relayed")
	}
}

func TestParseInbound(t *testing.T) {
	msg, err := parseInbound([]byte(`{"type":"offer","role":"caller","code":"room1","data":{"sdp":"v=0"},"extra":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.kind() != kindOffer {
		t.Fatalf("kind=%v, want offer", msg.kind())
	}
	if msg.Role == nil || *msg.Role != "caller" {
		t.Fatalf("role=%v, want caller", msg.Role)
	}
	if !msg.codeMatches("room1") || msg.codeMatches("room2") {
		t.Fatalf("code matching wrong for %v", msg.Code)
	}
	if string(msg.Data) != `{"sdp":"v=0"}` {
		t.Fatalf("data=%s", msg.Data)
	}

	msg, err = parseInbound([]byte(`  {"type":"join","role":null}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Role != nil {
		t.Fatalf("null role should parse as unset, got %q", *msg.Role)
	}
	if msg.codeMatches("") {
		t.Fatalf("missing code must not match any room")
	}

	msg, err = parseInbound([]byte(`{"type":"join","code":""}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !msg.codeMatches("") {
		t.Fatalf("explicit empty code should compare by value")
	}
}

func TestParseInbound_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{name: "empty", in: ``, want: errNotObject},
		{name: "array", in: `[{"type":"join"}]`, want: errNotObject},
		{name: "string", in: `"join"`, want: errNotObject},
		{name: "null", in: `null`, want: errNotObject},
		{name: "trailing data", in: `{"type":"join"}{"type":"join"}`, want: errTrailingData},
		{name: "invalid utf8 in data", in: "{\"type\":\"offer\",\"code\":\"room1\",\"data\":\"\xff\xfe\"}", want: errInvalidUTF8},
		{name: "invalid utf8 in role", in: "{\"type\":\"offer\",\"role\":\"\xc3\",\"code\":\"room1\"}", want: errInvalidUTF8},
		{name: "invalid utf8 in unknown field", in: "{\"type\":\"join\",\"x\":\"\xed\xa0\x80\"}", want: errInvalidUTF8},
		{name: "object role", in: `{"type":"join","role":{}}`},
		{name: "numeric code", in: `{"type":"join","code":7}`},
		{name: "truncated", in: `{"type":"join"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseInbound([]byte(tc.in))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestInboundMessage_TypeLabel(t *testing.T) {
	cases := []struct {
		in        string
		wantLabel string
		wantKind  messageKind
	}{
		{in: `{"type":"offer"}`, wantLabel: "offer", wantKind: kindOffer},
		{in: `{"type":"bogus"}`, wantLabel: "bogus", wantKind: kindUnknown},
		{in: `{"type":""}`, wantLabel: "", wantKind: kindUnknown},
		{in: `{"code":"room1"}`, wantLabel: "None", wantKind: kindUnknown},
		{in: `{"type":null}`, wantLabel: "None", wantKind: kindUnknown},
		{in: `{"type":5}`, wantLabel: "5", wantKind: kindUnknown},
		{in: `{"type":true}`, wantLabel: "true", wantKind: kindUnknown},
		{in: `{"type":[ "offer" ]}`, wantLabel: `["offer"]`, wantKind: kindUnknown},
	}
	for _, tc := range cases {
		msg, err := parseInbound([]byte(tc.in))
		if err != nil {
			t.Fatalf("parse %s: %v", tc.in, err)
		}
		if got := msg.typeLabel(); got != tc.wantLabel {
			t.Fatalf("%s: typeLabel=%q, want %q", tc.in, got, tc.wantLabel)
		}
		if got := msg.kind(); got != tc.wantKind {
			t.Fatalf("%s: kind=%v, want %v", tc.in, got, tc.wantKind)
		}
	}
}

func TestEncodeOutbound(t *testing.T) {
	role := "caller"

	cases := []struct {
		name string
		got  func() ([]byte, error)
		want string
	}{
		{
			name: "join ack",
			got:  func() ([]byte, error) { return encodeJoinAck(&role, "room1") },
			want: `{"type":"join_ack","message":"Join acknowledged","role":"caller","code":"room1"}`,
		},
		{
			name: "join ack without role",
			got:  func() ([]byte, error) { return encodeJoinAck(nil, "room1") },
			want: `{"type":"join_ack","message":"Join acknowledged","role":null,"code":"room1"}`,
		},
		{
			name: "relay",
			got: func() ([]byte, error) {
				return encodeRelay(typeOffer, []byte(`{"sdp":"..."}`), &role, "room1")
			},
			want: `{"type":"offer","data":{"sdp":"..."},"role":"caller","code":"room1"}`,
		},
		{
			name: "relay without data",
			got:  func() ([]byte, error) { return encodeRelay(typeAnswer, nil, nil, "room1") },
			want: `{"type":"answer","data":null,"role":null,"code":"room1"}`,
		},
		{
			name: "relay compacts data",
			got: func() ([]byte, error) {
				return encodeRelay(typeICECandidate, []byte("{ \"candidate\" : \"a<b\" }"), &role, "r")
			},
			want: `{"type":"ice-candidate","data":{"candidate":"a<b"},"role":"caller","code":"r"}`,
		},
		{
			name: "unknown type",
			got:  func() ([]byte, error) { return encodeUnknownType("bogus", "room1") },
			want: `{"type":"error","message":"Unknown message type: bogus","code":"room1"}`,
		},
		{
			name: "unknown type is not html escaped",
			got:  func() ([]byte, error) { return encodeUnknownType("<script>", "room1") },
			want: `{"type":"error","message":"Unknown message type: <script>","code":"room1"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.got()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got  %s\nwant %s", got, tc.want)
			}
		})
	}
}
