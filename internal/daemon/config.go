// Package daemon manages the Overwatch process lifecycle and configuration:
// loading and validating the TOML config, and wiring every subsystem
// together into a running scan orchestration engine.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/geo"
)

// Config holds every engine setting, both required and
// optional-with-defaults.
type Config struct {
	DBEngine string `toml:"db_engine"`

	Grid     [2]int     `toml:"grid"`
	MapStart [2]float64 `toml:"map_start"`
	MapEnd   [2]float64 `toml:"map_end"`

	Accounts []AccountConfig `toml:"accounts"`

	API     APIConfig     `toml:"api"`
	Proxies []string      `toml:"proxies"`
	Notify  NotifyConfig  `toml:"notify"`
	Control ControlConfig `toml:"control"`
	Limits  LimitsConfig  `toml:"limits"`
	Viewer  ViewerConfig  `toml:"viewer"`
	Logging LoggingConfig `toml:"logging"`
}

// AccountConfig is one configured upstream credential.
type AccountConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Provider string `toml:"provider"`
}

// APIConfig carries the upstream geospatial API credentials the client
// library needs; the client implementation itself is an external
// collaborator (domain.MapClient) — this repo only threads the config
// through to it.
type APIConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
}

// NotifyConfig controls the notifier's species filter and self-tuning.
type NotifyConfig struct {
	Enabled           bool    `toml:"enabled"`
	Encounter         string  `toml:"encounter"` // "none" | "notifying" | "all"
	NotifyIDs         []int   `toml:"notify_ids"`
	NotifyRanking     []int   `toml:"notify_ranking"`
	DesiredFreqLowMin float64 `toml:"desired_frequency_low_min"`
	DesiredFreqHighMin float64 `toml:"desired_frequency_high_min"`
}

// unrankedSpeciesRank is returned for a species absent from both
// NotifyIDs and NotifyRanking: a rank far outside the notifier's widest
// eligible window (1…75), so an unconfigured species never notifies by
// default rather than silently notifying for everything.
const unrankedSpeciesRank = 9999

// SpeciesRankFunc builds a species popularity-rank lookup from the
// configured notify set: every ID in NotifyIDs is treated as the most
// notable (rank 1, always eligible); every other ID is ranked by its
// position in NotifyRanking (the first entry is rank 1, matching
// NotifyIDs); anything absent from both falls outside the eligible
// window by default.
func (c NotifyConfig) SpeciesRankFunc() func(speciesID int) int {
	always := make(map[int]bool, len(c.NotifyIDs))
	for _, id := range c.NotifyIDs {
		always[id] = true
	}
	rank := make(map[int]int, len(c.NotifyRanking))
	for i, id := range c.NotifyRanking {
		rank[id] = i + 1
	}
	return func(speciesID int) int {
		if always[speciesID] {
			return 1
		}
		if r, ok := rank[speciesID]; ok {
			return r
		}
		return unrankedSpeciesRank
	}
}

// ControlConfig lists proxy circuit-rotation control socket addresses.
type ControlConfig struct {
	Socks []string `toml:"socks"`
}

// LimitsConfig holds the tunable scheduling and worker limits.
type LimitsConfig struct {
	MaxCaptchas int `toml:"max_captchas"`

	// NetworkThreads sizes the bounded semaphore that caps concurrent
	// in-flight upstream API calls pool-wide (internal/worker.NetworkLimiter).
	NetworkThreads int `toml:"network_threads"`

	// MapWorkers controls whether the viewer's /workers endpoint reports
	// worker positions (lat/lon) or redacts them.
	MapWorkers bool `toml:"map_workers"`

	// AppSimulation controls whether each visit's point is jittered
	// before the API call, mimicking a real device's GPS noise.
	AppSimulation bool `toml:"app_simulation"`

	// MaxRetries bounds retryable attempts per visit (internal/worker.Worker.Visit).
	MaxRetries int `toml:"max_retries"`

	// Longspawn enables persisting extended-lifetime encounters to the
	// longspawn table; when false they are classified and dropped.
	Longspawn bool `toml:"longspawn"`

	GiveUpKnownS       int     `toml:"give_up_known_seconds"`
	GiveUpUnknownS     int     `toml:"give_up_unknown_seconds"`
	SkipSpawnS         int     `toml:"skip_spawn_seconds"`
	ScanDelayS         int     `toml:"scan_delay_seconds"`
	SpeedLimit         float64 `toml:"speed_limit"`
	SimultaneousLogins int     `toml:"simultaneous_logins"`
	ShuffleEvery       int     `toml:"shuffle_every"`
}

// ViewerConfig controls the auth-keyed introspection HTTP surface.
type ViewerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	AuthToken  string `toml:"auth_token"`
	Prometheus bool   `toml:"prometheus"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level        string `toml:"level"` // DEBUG, INFO, WARNING, ERROR
	File         string `toml:"file"`
	NoStatusBar  bool   `toml:"no_status_bar"`
}

// DefaultConfig returns the optional settings' defaults; required fields
// (DBEngine, Grid, MapStart/MapEnd, Accounts, API credentials) are left
// zero and must come from the loaded file.
func DefaultConfig() Config {
	home := OverwatchHome()
	return Config{
		DBEngine: "sqlite",
		Notify: NotifyConfig{
			Enabled:            false,
			Encounter:          "none",
			DesiredFreqLowMin:  20,
			DesiredFreqHighMin: 75,
		},
		Limits: LimitsConfig{
			MaxCaptchas:        0,
			NetworkThreads:     0, // computed from GRID if zero, see Validate
			MapWorkers:         true,
			AppSimulation:      true,
			MaxRetries:         3,
			Longspawn:          true,
			GiveUpKnownS:       60,
			GiveUpUnknownS:     20,
			SkipSpawnS:         90,
			ScanDelayS:         10,
			SpeedLimit:         19,
			SimultaneousLogins: 1,
			ShuffleEvery:       500,
		},
		Viewer: ViewerConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    5000,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			File:  filepath.Join(home, "overwatch.log"),
		},
	}
}

// Validate applies the config rules: map_start/map_end must differ
// in both axes, at least one account must be configured, proxies are
// normalized to a de-duplicated set, NETWORK_THREADS defaults from the
// grid cell count, SCAN_DELAY is raised to its 10s floor,
// SIMULTANEOUS_LOGINS is raised to at least 1, and a SPEED_LIMIT outside
// (0, 25] falls back to 19.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return domain.ErrNoAccountsConfigured
	}
	if c.MapStart == c.MapEnd || c.MapStart[0] == c.MapEnd[0] || c.MapStart[1] == c.MapEnd[1] {
		return domain.ErrAreaNotSet
	}
	if c.Grid[0] <= 0 || c.Grid[1] <= 0 {
		return fmt.Errorf("%w: grid must have positive rows and cols", domain.ErrConfigInvalid)
	}

	c.Proxies = dedupStrings(c.Proxies)

	if c.Limits.NetworkThreads <= 0 {
		cells := c.Grid[0] * c.Grid[1]
		c.Limits.NetworkThreads = (cells+14)/15 + 1
	}
	if c.Limits.ScanDelayS < 10 {
		c.Limits.ScanDelayS = 10
	}
	if c.Limits.SpeedLimit <= 0 || c.Limits.SpeedLimit > 25 {
		c.Limits.SpeedLimit = 19
	}
	if c.Limits.SimultaneousLogins < 1 {
		c.Limits.SimultaneousLogins = 1
	}
	if c.Limits.ShuffleEvery <= 0 {
		c.Limits.ShuffleEvery = 500
	}
	return nil
}

// StartPoint and EndPoint expose the configured bounding box as geo.Points.
func (c *Config) StartPoint() geo.Point { return geo.Point{Lat: c.MapStart[0], Lon: c.MapStart[1]} }
func (c *Config) EndPoint() geo.Point   { return geo.Point{Lat: c.MapEnd[0], Lon: c.MapEnd[1]} }

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// LoadConfig reads config from $OVERWATCH_HOME/config.toml, applying
// defaults for any key the file omits, then validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(OverwatchHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, fmt.Errorf("%w: no config file at %s", domain.ErrConfigInvalid, path)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to $OVERWATCH_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(OverwatchHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// OverwatchHome returns the data directory: $OVERWATCH_HOME, or
// ~/.overwatch if unset.
func OverwatchHome() string {
	if env := os.Getenv("OVERWATCH_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".overwatch")
}
