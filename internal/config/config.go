// Package config loads yesqueld's runtime configuration the way the
// original program did: a flat key=value file named by an environment
// variable, defaulting to config.txt in the working directory
// (original_source/include/options.h's GAIACONFIG/GAIA_DEFAULT_CONFIG_FILENAME).
// A handful of settings can be overridden by an environment variable of
// their own, matching cmd/node's "env var names the source, flag
// overrides it" idiom.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVar is the environment variable that, if set, names the config file
// to load instead of DefaultFile.
const EnvVar = "YESQUELCONFIG"

// DefaultFile is the config file loaded when EnvVar is unset.
const DefaultFile = "config.txt"

// Config holds every tunable named in §6 and the AMBIENT STACK section,
// with defaults matching options.h.
type Config struct {
	ServerID   string
	ListenAddr string

	Workers int

	CheckpointMinItems         int
	CheckpointMinAddItems      int
	CheckpointMinDelRangeItems int
	StaleGCInterval            time.Duration

	DisableOnePhaseCommit           bool
	OCC                             bool
	NonCommutative                  bool
	DisableDelRangeDelRangeConflicts bool
	WriteOnPrepare                  bool
	WriteOnPrepareMaxBytes          int

	SplitLocation          int // 1=client, 2=server, per DTREE_SPLIT_LOCATION
	SplitCellCount         int
	SplitByteSize          int
	SplitMinSize           int
	SplitClientMaxRetries  int
	AvoidDuplicateInterval time.Duration
	AllSplitsUnconditional bool
	LoadSplits             bool
	DirectSeek             bool

	DiskLogEnabled bool
	DiskLogSimple  bool
	DiskLogFile    string
	DumpFile       string
}

// Default returns the option set options.h documents as its shipped
// defaults, with the one Go-specific addition of ServerID/ListenAddr
// (the original had no notion of a Go net/http listen address).
func Default() Config {
	return Config{
		ListenAddr: fmt.Sprintf(":%d", DefaultPort),

		Workers: 1,

		CheckpointMinItems:         15,
		CheckpointMinAddItems:      10,
		CheckpointMinDelRangeItems: 1,
		StaleGCInterval:            3000 * time.Millisecond,

		WriteOnPrepare:         true,
		WriteOnPrepareMaxBytes: 4096,

		SplitLocation:          2,
		SplitCellCount:         50,
		SplitByteSize:          8000,
		SplitMinSize:           3,
		SplitClientMaxRetries:  100,
		AvoidDuplicateInterval: 1000 * time.Millisecond,
		DirectSeek:             true,

		DumpFile:    "kv.dat",
		DiskLogFile: "kv.log",
	}
}

// DefaultPort is options.h's SERVER_DEFAULT_PORT.
const DefaultPort = 11223

// Load reads the config file named by EnvVar (or DefaultFile if unset)
// on top of Default(), then applies any YESQUEL_* environment overrides.
// A missing config file is not an error: Default() alone is a valid
// configuration, matching the original's "file is optional" behavior.
func Load(serverID string) (Config, error) {
	cfg := Default()
	cfg.ServerID = serverID

	path := os.Getenv(EnvVar)
	if path == "" {
		path = DefaultFile
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := parseInto(&cfg, f); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func parseInto(cfg *Config, f *os.File) error {
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, val, ok := strings.Cut(text, "=")
		if !ok {
			return fmt.Errorf("line %d: expected key = value, got %q", line, text)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if err := setField(cfg, key, val); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func setField(cfg *Config, key, val string) error {
	switch key {
	case "listen_addr":
		cfg.ListenAddr = val
	case "workers":
		return setInt(&cfg.Workers, val)
	case "checkpoint_min_items":
		return setInt(&cfg.CheckpointMinItems, val)
	case "checkpoint_min_additems":
		return setInt(&cfg.CheckpointMinAddItems, val)
	case "checkpoint_min_delrangeitems":
		return setInt(&cfg.CheckpointMinDelRangeItems, val)
	case "stale_gc_ms":
		ms, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.StaleGCInterval = time.Duration(ms) * time.Millisecond
	case "disable_one_phase_commit":
		return setBool(&cfg.DisableOnePhaseCommit, val)
	case "occ":
		return setBool(&cfg.OCC, val)
	case "noncommutative":
		return setBool(&cfg.NonCommutative, val)
	case "disable_delrange_delrange_conflicts":
		return setBool(&cfg.DisableDelRangeDelRangeConflicts, val)
	case "write_on_prepare":
		return setBool(&cfg.WriteOnPrepare, val)
	case "write_on_prepare_max_bytes":
		return setInt(&cfg.WriteOnPrepareMaxBytes, val)
	case "split_location":
		return setInt(&cfg.SplitLocation, val)
	case "split_size":
		return setInt(&cfg.SplitCellCount, val)
	case "split_size_bytes":
		return setInt(&cfg.SplitByteSize, val)
	case "split_minsize":
		return setInt(&cfg.SplitMinSize, val)
	case "split_client_max_retries":
		return setInt(&cfg.SplitClientMaxRetries, val)
	case "avoid_duplicate_interval_ms":
		ms, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.AvoidDuplicateInterval = time.Duration(ms) * time.Millisecond
	case "all_splits_unconditional":
		return setBool(&cfg.AllSplitsUnconditional, val)
	case "load_splits":
		return setBool(&cfg.LoadSplits, val)
	case "direct_seek":
		return setBool(&cfg.DirectSeek, val)
	case "disklog_simple":
		return setBool(&cfg.DiskLogSimple, val)
	case "disklog_enabled":
		return setBool(&cfg.DiskLogEnabled, val)
	case "disklog_file":
		cfg.DiskLogFile = val
	case "dump_file":
		cfg.DumpFile = val
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	return nil
}

func setInt(dst *int, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", val)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("expected true/false, got %q", val)
	}
	*dst = b
	return nil
}

// envOverride pairs a Config field with the environment variable that
// can override it, matching cmd/node's per-setting override idiom.
var envOverride = []struct {
	key   string
	apply func(*Config, string) error
}{
	{"YESQUEL_LISTEN_ADDR", func(c *Config, v string) error { c.ListenAddr = v; return nil }},
	{"YESQUEL_WORKERS", func(c *Config, v string) error { return setInt(&c.Workers, v) }},
	{"YESQUEL_DUMP_FILE", func(c *Config, v string) error { c.DumpFile = v; return nil }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverride {
		if v := os.Getenv(o.key); v != "" {
			_ = o.apply(cfg, v)
		}
	}
}
