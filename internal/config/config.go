// Package config loads a channel's Open parameters (spec.md §6.4) from a
// .env-style file plus environment variable overrides, the way
// guiperry-HASHER's own internal/config layers a single device IP/
// credential pair — generalized here from that one pair to the full
// bitrate/sample-point/serial/shared-mode parameter set this protocol
// needs.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ChannelDefaults holds the Open parameters spec.md §6.4 names, loaded
// once and overridable per field by environment variable.
type ChannelDefaults struct {
	ChannelIndex int    // -1 means "select by Serial instead"
	Serial       string
	Bitrate      uint32
	DataBitrate  uint32
	SamplePoint  float64
	DataSamplePoint float64
	SJW          uint16 // 0 is the "as large as TSEG2 allows" sentinel
	DataSJW      uint16
	FD           bool
	ReceiveOwnMessages bool
	Shared       bool
	InitAccess   bool

	ControlSocket string // C12 listen address, e.g. unix:///run/supercan/0.sock
	HTTPAddr      string // C13 listen address, e.g. 127.0.0.1:0
}

// defaults mirrors a typical classic-CAN channel at a common bitrate,
// overridden by .env/environment as needed.
func defaults() ChannelDefaults {
	return ChannelDefaults{
		ChannelIndex:    0,
		Bitrate:         500_000,
		DataBitrate:     2_000_000,
		SamplePoint:     0.8,
		DataSamplePoint: 0.7,
		FD:              false,
		ReceiveOwnMessages: true,
		Shared:          true,
		InitAccess:      true,
		ControlSocket:   "unix:///run/supercan/0.sock",
		HTTPAddr:        "127.0.0.1:0",
	}
}

var (
	cached       *ChannelDefaults
	cachedLoaded bool
)

// Load reads .env (if present, from the working directory, or else from
// the nearest ancestor directory holding go.mod) and environment variable overrides,
// caching the result for subsequent calls.
func Load() (*ChannelDefaults, error) {
	if cached != nil && cachedLoaded {
		return cached, nil
	}

	cfg := defaults()

	root := findProjectRoot()
	envPath := filepath.Join(root, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}
	applyEnvOverrides(&cfg)

	cached = &cfg
	cachedLoaded = true
	return cached, nil
}

func parseEnvFile(content string, cfg *ChannelDefaults) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		setField(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
}

func applyEnvOverrides(cfg *ChannelDefaults) {
	for _, key := range []string{
		"SC_CHANNEL_INDEX", "SC_SERIAL", "SC_BITRATE", "SC_DATA_BITRATE",
		"SC_SAMPLE_POINT", "SC_DATA_SAMPLE_POINT", "SC_SJW", "SC_DATA_SJW",
		"SC_FD", "SC_RECEIVE_OWN_MESSAGES", "SC_SHARED", "SC_INIT_ACCESS",
		"SC_CONTROL_SOCKET", "SC_HTTP_ADDR",
	} {
		if v := os.Getenv(key); v != "" {
			setField(cfg, key, v)
		}
	}
}

func setField(cfg *ChannelDefaults, key, value string) {
	switch key {
	case "SC_CHANNEL_INDEX":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.ChannelIndex = n
		}
	case "SC_SERIAL":
		cfg.Serial = value
		cfg.ChannelIndex = -1
	case "SC_BITRATE":
		if n, err := strconv.ParseUint(value, 10, 32); err == nil {
			cfg.Bitrate = uint32(n)
		}
	case "SC_DATA_BITRATE":
		if n, err := strconv.ParseUint(value, 10, 32); err == nil {
			cfg.DataBitrate = uint32(n)
		}
	case "SC_SAMPLE_POINT":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.SamplePoint = f
		}
	case "SC_DATA_SAMPLE_POINT":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.DataSamplePoint = f
		}
	case "SC_SJW":
		if n, err := strconv.ParseUint(value, 10, 16); err == nil {
			cfg.SJW = uint16(n)
		}
	case "SC_DATA_SJW":
		if n, err := strconv.ParseUint(value, 10, 16); err == nil {
			cfg.DataSJW = uint16(n)
		}
	case "SC_FD":
		cfg.FD = isTruthy(value)
	case "SC_RECEIVE_OWN_MESSAGES":
		cfg.ReceiveOwnMessages = isTruthy(value)
	case "SC_SHARED":
		cfg.Shared = isTruthy(value)
	case "SC_INIT_ACCESS":
		cfg.InitAccess = isTruthy(value)
	case "SC_CONTROL_SOCKET":
		cfg.ControlSocket = value
	case "SC_HTTP_ADDR":
		cfg.HTTPAddr = value
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// findProjectRoot returns the working directory if it holds a .env file;
// otherwise it walks up from there to the nearest directory holding go.mod, matching guiperry-HASHER's own lookup
// order.
func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
