package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("SignalingWSIdleTimeout=%v, want %v", cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("SignalingWSPingInterval=%v, want %v", cfg.SignalingWSPingInterval, DefaultSignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want %d", cfg.MaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingSendQueueBytes != DefaultSignalingSendQueueBytes {
		t.Fatalf("SignalingSendQueueBytes=%d, want %d", cfg.SignalingSendQueueBytes, DefaultSignalingSendQueueBytes)
	}
	if cfg.MaxRoomMembers != 0 || cfg.SignalingConnectsPerSecondPerIP != 0 || cfg.MaxSignalingBytesPerSecond != 0 {
		t.Fatalf("expected unlimited defaults, got %+v", cfg)
	}
	if !cfg.ExposeRooms() {
		t.Fatalf("dev mode should expose /rooms")
	}
	if len(cfg.ICEServers) != 0 || cfg.ICEConfigError() != nil {
		t.Fatalf("ICEServers=%v err=%v, want empty and nil", cfg.ICEServers, cfg.ICEConfigError())
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST should be disabled by default")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.ExposeRooms() {
		t.Fatalf("prod mode must not expose /rooms")
	}
}

func TestModeFromEnv_ExplicitLogSettingsWin(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvMode:      "production",
		EnvLogFormat: "text",
		EnvLogLevel:  "warn",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatText || cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("got mode=%q format=%q level=%v", cfg.Mode, cfg.LogFormat, cfg.LogLevel)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvListenAddr:     "0.0.0.0:9000",
		EnvMaxRoomMembers: "2",
	}), []string{"--listen-addr", "127.0.0.1:9999", "--max-room-members", "4"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("ListenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.MaxRoomMembers != 4 {
		t.Fatalf("MaxRoomMembers=%d, want 4", cfg.MaxRoomMembers)
	}
}

func TestSignalingEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvSignalingWSIdleTimeout:          "30s",
		EnvSignalingWSPingInterval:         "5s",
		EnvMaxSignalingMessageBytes:        "1024",
		EnvMaxSignalingMessagesPerSecond:   "0",
		EnvMaxSignalingBytesPerSecond:      "4096",
		EnvSignalingSendQueueBytes:         "2048",
		EnvSignalingConnectsPerSecondPerIP: "3",
		EnvMaxRoomMembers:                  "2",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingWSIdleTimeout != 30*time.Second || cfg.SignalingWSPingInterval != 5*time.Second {
		t.Fatalf("keepalive=%v/%v", cfg.SignalingWSIdleTimeout, cfg.SignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != 1024 || cfg.MaxSignalingMessagesPerSecond != 0 || cfg.MaxSignalingBytesPerSecond != 4096 {
		t.Fatalf("limits=%d/%d/%d", cfg.MaxSignalingMessageBytes, cfg.MaxSignalingMessagesPerSecond, cfg.MaxSignalingBytesPerSecond)
	}
	if cfg.SignalingSendQueueBytes != 2048 || cfg.SignalingConnectsPerSecondPerIP != 3 || cfg.MaxRoomMembers != 2 {
		t.Fatalf("queue=%d connects=%d members=%d", cfg.SignalingSendQueueBytes, cfg.SignalingConnectsPerSecondPerIP, cfg.MaxRoomMembers)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{name: "bad mode", args: []string{"--mode", "staging"}, wantErr: "--mode"},
		{name: "bad log format", env: map[string]string{EnvLogFormat: "xml"}, wantErr: "--log-format"},
		{name: "bad log level", args: []string{"--log-level", "loud"}, wantErr: "--log-level"},
		{name: "bad duration env", env: map[string]string{EnvSignalingWSIdleTimeout: "soon"}, wantErr: EnvSignalingWSIdleTimeout},
		{name: "bad int env", env: map[string]string{EnvMaxRoomMembers: "many"}, wantErr: EnvMaxRoomMembers},
		{name: "ping not below idle", env: map[string]string{EnvSignalingWSIdleTimeout: "10s", EnvSignalingWSPingInterval: "10s"}, wantErr: "--signaling-ws-ping-interval must be <"},
		{name: "zero message bytes", args: []string{"--max-signaling-message-bytes", "0"}, wantErr: "--max-signaling-message-bytes"},
		{name: "byte rate below frame size", env: map[string]string{EnvMaxSignalingMessageBytes: "2048", EnvMaxSignalingBytesPerSecond: "1024"}, wantErr: "--max-signaling-bytes-per-second"},
		{name: "negative room cap", args: []string{"--max-room-members", "-1"}, wantErr: "--max-room-members"},
		{name: "zero send queue", args: []string{"--signaling-send-queue-bytes", "0"}, wantErr: "--signaling-send-queue-bytes"},
		{name: "bad public url", args: []string{"--public-base-url", "example.com"}, wantErr: "--public-base-url"},
		{name: "bad origin", env: map[string]string{EnvAllowedOrigins: "example.com/path"}, wantErr: "--allowed-origins"},
		{name: "turn rest ttl", env: map[string]string{EnvTURNRESTSharedSecret: "s", EnvTURNRESTTTLSeconds: "0"}, wantErr: EnvTURNRESTTTLSeconds},
		{name: "turn rest prefix colon", env: map[string]string{EnvTURNRESTSharedSecret: "s", EnvTURNRESTUsernamePrefix: "a:b"}, wantErr: EnvTURNRESTUsernamePrefix},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), tc.args)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestAllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvAllowedOrigins: " HTTPS://App.Example.com:443 , *, null,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "*", "null"}
	if strings.Join(cfg.AllowedOrigins, ",") != strings.Join(want, ",") {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestICEConfigErrorDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error for TURN without credentials")
	}
	if cfg.ICEServers != nil {
		t.Fatalf("ICEServers=%v, want nil on error", cfg.ICEServers)
	}
}

func TestTURNRESTAllowsTURNWithoutStaticCredentials(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvTurnURLs:             "turn:turn.example.com:3478",
		EnvTURNRESTSharedSecret: "secret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError: %v", err)
	}
	if !cfg.TURNREST.Enabled() || cfg.TURNREST.TTL() != time.Hour || cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("TURNREST=%+v", cfg.TURNREST)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "" {
		t.Fatalf("ICEServers=%+v", cfg.ICEServers)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
