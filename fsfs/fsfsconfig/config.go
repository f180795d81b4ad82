// Package fsfsconfig parses db/fsfs.conf: the per-repository INI
// file controlling rep-sharing, deltification, packed revprops, and
// caching behavior.
package fsfsconfig

import (
	"fmt"
	"os"

	"github.com/go-ini/ini"

	"github.com/rcowham/svnfsfs/fsfs/rep"
)

// Config is the parsed contents of db/fsfs.conf.
type Config struct {
	MemcachedServers map[string]string

	CachesFailStop bool

	EnableRepSharing bool

	Deltification rep.DeltificationConfig

	RevpropPackSizeKB     int
	CompressPackedRevprops bool
}

// Default returns the engine's built-in defaults, applied before an
// fsfs.conf file is read (or when none exists): rep-sharing on,
// deltification on with the standard thresholds, revprop packing at
// the upstream default size.
func Default() *Config {
	return &Config{
		MemcachedServers:       map[string]string{},
		CachesFailStop:         false,
		EnableRepSharing:       true,
		Deltification:          rep.DefaultDeltificationConfig(),
		RevpropPackSizeKB:      16,
		CompressPackedRevprops: false,
	}
}

// Unmarshal parses content as an INI document into a Config seeded
// with Default's values.
func Unmarshal(content []byte) (*Config, error) {
	cfg := Default()

	f, err := ini.Load(content)
	if err != nil {
		return nil, fmt.Errorf("invalid fsfs.conf: %v", err.Error())
	}

	if sec, err := f.GetSection("memcached-servers"); err == nil {
		for _, key := range sec.Keys() {
			cfg.MemcachedServers[key.Name()] = key.String()
		}
	}

	if sec, err := f.GetSection("caches"); err == nil {
		cfg.CachesFailStop = sec.Key("fail-stop").MustBool(cfg.CachesFailStop)
	}

	if sec, err := f.GetSection("rep-sharing"); err == nil {
		cfg.EnableRepSharing = sec.Key("enable-rep-sharing").MustBool(cfg.EnableRepSharing)
	}

	if sec, err := f.GetSection("deltification"); err == nil {
		cfg.Deltification.MaxLinearDeltification = sec.Key("max-linear-deltification").MustInt(cfg.Deltification.MaxLinearDeltification)
		cfg.Deltification.MaxDeltificationWalk = sec.Key("max-deltification-walk").MustInt(cfg.Deltification.MaxDeltificationWalk)
	}

	if sec, err := f.GetSection("packed-revprops"); err == nil {
		cfg.RevpropPackSizeKB = sec.Key("revprop-pack-size").MustInt(cfg.RevpropPackSizeKB)
		cfg.CompressPackedRevprops = sec.Key("compress-packed-revprops").MustBool(cfg.CompressPackedRevprops)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads and parses filename.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString loads and parses content.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.Deltification.MaxDeltificationWalk < 0 {
		return fmt.Errorf("max-deltification-walk must be >= 0, got %d", c.Deltification.MaxDeltificationWalk)
	}
	if c.RevpropPackSizeKB < 0 {
		return fmt.Errorf("revprop-pack-size must be >= 0, got %d", c.RevpropPackSizeKB)
	}
	return nil
}
