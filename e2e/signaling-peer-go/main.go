package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"
)

// Joins a signaling room as the answering peer for browser E2E tests. Every
// DataChannel message is echoed back on the same channel. Prints "READY"
// once the join has been acknowledged.
//
//	SIGNAL_URL  ws://127.0.0.1:8080/ws/signal/<room>/ (required)
//	ROLE        role announced to the room (default "callee")
//	ORIGIN      Origin header for the WebSocket handshake
func main() {
	signalURL := os.Getenv("SIGNAL_URL")
	if signalURL == "" {
		fmt.Fprintln(os.Stderr, "SIGNAL_URL is required")
		os.Exit(2)
	}
	code, err := roomFromURL(signalURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SIGNAL_URL: %v\n", err)
		os.Exit(2)
	}

	ws, err := websocket.Dial(signalURL, "", envOrDefault("ORIGIN", "http://localhost"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalURL, err)
		os.Exit(1)
	}
	defer ws.Close()

	p := &peer{ws: ws, code: code, role: envOrDefault("ROLE", "callee")}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	if err := p.join(); err != nil {
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}

	pc, err := webrtc.NewAPI().NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new peer connection: %v\n", err)
		os.Exit(1)
	}
	defer pc.Close()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := p.send("ice-candidate", c.ToJSON()); err != nil {
			fmt.Fprintf(os.Stderr, "send candidate: %v\n", err)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if msg.IsString {
				_ = dc.SendText(string(msg.Data))
				return
			}
			_ = dc.Send(msg.Data)
		})
	})

	fmt.Println("READY")

	if err := p.serve(pc); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "signaling: %v\n", err)
		os.Exit(1)
	}
}

type peer struct {
	ws   *websocket.Conn
	code string
	role string

	pending []webrtc.ICECandidateInit
}

type inbound struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Role    *string         `json:"role"`
	Code    string          `json:"code"`
}

func (p *peer) send(msgType string, data any) error {
	return websocket.JSON.Send(p.ws, map[string]any{
		"type": msgType,
		"role": p.role,
		"code": p.code,
		"data": data,
	})
}

func (p *peer) join() error {
	if err := p.send("join", nil); err != nil {
		return err
	}
	for {
		var msg inbound
		if err := websocket.JSON.Receive(p.ws, &msg); err != nil {
			return err
		}
		if msg.Type == "join_ack" {
			return nil
		}
	}
}

// serve applies offers and candidates from the room until the socket closes.
func (p *peer) serve(pc *webrtc.PeerConnection) error {
	for {
		var msg inbound
		if err := websocket.JSON.Receive(p.ws, &msg); err != nil {
			return err
		}

		switch msg.Type {
		case "offer":
			var offer webrtc.SessionDescription
			if err := json.Unmarshal(msg.Data, &offer); err != nil {
				return fmt.Errorf("decode offer: %w", err)
			}
			if err := pc.SetRemoteDescription(offer); err != nil {
				return fmt.Errorf("set remote offer: %w", err)
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				return fmt.Errorf("create answer: %w", err)
			}
			if err := p.send("answer", answer); err != nil {
				return err
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				return fmt.Errorf("set local answer: %w", err)
			}
			for _, c := range p.pending {
				if err := pc.AddICECandidate(c); err != nil {
					return fmt.Errorf("add candidate: %w", err)
				}
			}
			p.pending = nil
		case "ice-candidate":
			var cand webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Data, &cand); err != nil {
				return fmt.Errorf("decode candidate: %w", err)
			}
			if pc.RemoteDescription() == nil {
				p.pending = append(p.pending, cand)
				continue
			}
			if err := pc.AddICECandidate(cand); err != nil {
				return fmt.Errorf("add candidate: %w", err)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "signaling error: %s\n", msg.Message)
		}
	}
}

func roomFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	code := path.Base(path.Clean(u.Path))
	if code == "" || code == "." || code == "/" || code == "signal" {
		return "", fmt.Errorf("no room in path %q", u.Path)
	}
	return code, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
