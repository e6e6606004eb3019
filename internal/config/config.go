// Package config loads netwatchd's flat TOML config file (the named
// keys of spec §6) with viper + go-toml, grounded on
// Wakiki93-recon-pipeline/internal/config/config.go's Load/Validate
// shape, and watches it for changes with fsnotify to drive the
// Supervisor's graceful-restart handshake (§4.7).
package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"netwatch/ap_common/network"
	"netwatch/internal/netutil"
)

// Target mirrors one `[[targets]]` TOML array-of-tables entry (§6).
type Target struct {
	Target struct {
		IP   string `mapstructure:"ip"`
		Mask int    `mapstructure:"mask"`
		Name string `mapstructure:"name"`
	} `mapstructure:"target"`
	Extended     bool `mapstructure:"extended"`
	VersionCheck bool `mapstructure:"version_check"`
	Windows      struct {
		Domain     string `mapstructure:"domain"`
		DomainUser string `mapstructure:"domain_user"`
		Password   string `mapstructure:"password"`
	} `mapstructure:"windows"`
}

// Config is the full parsed document (§6 Configuration).
type Config struct {
	Repeat     int    `mapstructure:"repeat"`
	NumThreads int    `mapstructure:"num_threads"`
	Device     string `mapstructure:"device"`
	ScriptArgs string `mapstructure:"script_args"`

	Listen struct {
		IP   string `mapstructure:"ip"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"listen"`

	SQLite struct {
		File string `mapstructure:"file"`
		URL  string `mapstructure:"url"`
	} `mapstructure:"sqlite"`

	Targets []Target `mapstructure:"targets"`
}

// defaults mirror §6's stated defaults (num_threads 10, listen 0.0.0.0:9090).
func setDefaults(v *viper.Viper) {
	v.SetDefault("num_threads", 10)
	v.SetDefault("listen.ip", "0.0.0.0")
	v.SetDefault("listen.port", 9090)
}

// Load reads and parses the TOML config file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshalling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants §6 implies: at least one target, and a
// positive worker count.
func (c *Config) Validate() error {
	if c.NumThreads <= 0 {
		return errors.New("num_threads must be positive")
	}
	if len(c.Targets) == 0 {
		return errors.New("at least one target must be configured")
	}
	for i, t := range c.Targets {
		if t.Target.IP == "" {
			return fmt.Errorf("targets[%d].target.ip is required", i)
		}
		if _, ok := netutil.ParseCIDRLabel(t.rawCIDR()); !ok {
			return fmt.Errorf("targets[%d].target %s is not a valid CIDR", i, t.rawCIDR())
		}
		if t.Target.Name != "" && !network.ValidHostname(t.Target.Name) {
			return fmt.Errorf("targets[%d].target.name %q is not a valid hostname", i, t.Target.Name)
		}
	}
	return nil
}

// rawCIDR builds the configured ip/mask pair without normalizing it to
// a network address.
func (t *Target) rawCIDR() string {
	return fmt.Sprintf("%s/%d", t.Target.IP, t.Target.Mask)
}

// CIDR returns the target's network in canonical network/mask form,
// e.g. a configured host address of 192.0.2.5/24 normalizes to
// 192.0.2.0/24.
func (t *Target) CIDR() string {
	if label, ok := netutil.ParseCIDRLabel(t.rawCIDR()); ok {
		return label
	}
	return t.rawCIDR()
}

// Watcher watches path for writes and invokes onChange with the newly
// parsed Config, driving the Supervisor's graceful-restart handshake
// (§4.7) instead of Brightgate's RPC-based config.HandleChange — same
// shape (a path fires a handler), different transport.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher starts watching the file at path itself for write events.
// The containing directory is not watched, so a save that replaces the
// file by rename (a new inode) is not reported.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating fsnotify watcher")
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watching %s", path)
	}
	return &Watcher{path: path, fsw: fsw, onChange: onChange}, nil
}

// Run blocks, reloading and dispatching the config on every Write event,
// until Close is called.
func (w *Watcher) Run() {
	for event := range w.fsw.Events {
		if event.Op&fsnotify.Write != fsnotify.Write {
			continue
		}
		cfg, err := Load(w.path)
		if err != nil {
			continue
		}
		w.onChange(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
