package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	EnvICEServersJSON = "AERO_ICE_SERVERS_JSON"

	EnvStunURLs       = "AERO_STUN_URLS"
	EnvTurnURLs       = "AERO_TURN_URLS"
	EnvTurnUsername   = "AERO_TURN_USERNAME"
	EnvTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	errMissingURLs     = errors.New("missing urls")
	errEmptyURL        = errors.New("urls must not contain empty entries")
	errTURNNeedsUser   = errors.New("turn urls require username")
	errTURNNeedsSecret = errors.New("turn urls require credential")
)

// parseICEServersFromValues prefers the JSON form and falls back to the
// convenience variables. With TURN REST enabled, TURN entries may omit
// credentials since they are minted per /webrtc/ice request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, turnREST)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// stringOrStringSlice accepts both forms RTCIceServer.urls allows.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates an RTCIceServer[]-shaped JSON
// array.
func ParseICEServersJSON(raw string, turnREST bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		s := webrtc.ICEServer{
			URLs:     splitTrimmed(server.URLs),
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			s.Credential = server.Credential
		}
		if err := validateICEServer(s, turnREST); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds the ICE list from comma-separated
// STUN and TURN URL lists plus one static TURN username/credential pair.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	stunList := splitTrimmed(strings.Split(stunURLs, ","))
	turnList := splitTrimmed(strings.Split(turnURLs, ","))

	var servers []webrtc.ICEServer
	if len(stunList) > 0 {
		s := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(s, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvStunURLs, err)
		}
		servers = append(servers, s)
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if !turnREST && (turnUsername == "" || turnCredential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", EnvTurnUsername, EnvTurnCredential, EnvTurnURLs)
		}
		s := webrtc.ICEServer{URLs: turnList, Username: turnUsername}
		if turnCredential != "" {
			s.Credential = turnCredential
		}
		if err := validateICEServer(s, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTurnURLs, err)
		}
		servers = append(servers, s)
	}

	return servers, nil
}

func splitTrimmed(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, turnREST bool) error {
	if len(server.URLs) == 0 {
		return errMissingURLs
	}

	isTURN := false
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if u == "" {
			return errEmptyURL
		}
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			isTURN = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", raw)
		}
	}

	if isTURN && !turnREST {
		if server.Username == "" {
			return errTURNNeedsUser
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errTURNNeedsSecret
		}
	}
	return nil
}
