package main

import (
	"bytes"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NOTE: keep etc/replicored.yml (if one is ever added) in sync with the
// structure below.

// Config represents the on-disk configuration for the replicored binary,
// mirroring cmd/litefs/config.go's Config/UnmarshalConfig/ExpandEnv shape
// almost verbatim, adapted to this domain's fields.
type Config struct {
	StoreCount   int    `yaml:"store-count"`
	DumpPath     string `yaml:"dump-path"`
	MasterAuth   string `yaml:"masterauth"`
	MaxFullParal int    `yaml:"max-full-paral"`
	IncrPoolSize int    `yaml:"incr-pool-size"`

	RateLimitBytesPerSec float64 `yaml:"rate-limit-bytes-per-sec"`

	Repl    ReplConfig    `yaml:"repl"`
	Status  StatusConfig  `yaml:"status"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// ReplConfig configures the master-side line-protocol listener that
// accepts replica connections.
type ReplConfig struct {
	Addr string `yaml:"addr"`
}

// StatusConfig configures the JSON status/control HTTP API.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// CatalogConfig selects and configures the metadata Catalog backend.
type CatalogConfig struct {
	Backend string `yaml:"backend"` // "mem" or "consul"

	Consul struct {
		URL string `yaml:"url"`
	} `yaml:"consul"`
}

// NewConfig returns a Config with the defaults spec.md §6 calls out.
func NewConfig() Config {
	var config Config
	config.StoreCount = 1
	config.DumpPath = "data/dump"
	config.MaxFullParal = 4
	config.IncrPoolSize = 4
	config.RateLimitBytesPerSec = 64 << 20
	config.Repl.Addr = ":6380"
	config.Status.Addr = ":20202"
	config.Catalog.Backend = "mem"
	return config
}

// ReadConfigFile reads and unmarshals a YAML config file at path into
// config, expanding environment variables first unless expandEnv is
// false.
func ReadConfigFile(config *Config, path string, expandEnv bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return UnmarshalConfig(config, data, expandEnv)
}

// UnmarshalConfig unmarshals config from data, optionally expanding
// environment variables first.
func UnmarshalConfig(config *Config, data []byte, expandEnv bool) error {
	if expandEnv {
		data = []byte(ExpandEnv(string(data)))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(config)
}

// configSearchPaths returns paths to search for a config file when none
// is given explicitly: current directory, then home directory, then
// /etc.
func configSearchPaths() []string {
	a := []string{"replicored.yml"}
	if u, _ := user.Current(); u != nil && u.HomeDir != "" {
		a = append(a, filepath.Join(u.HomeDir, "replicored.yml"))
	}
	a = append(a, filepath.Join(string(os.PathSeparator), "etc", "replicored.yml"))
	return a
}

// ExpandEnv replaces environment variables just like os.ExpandEnv but
// also allows equality/inequality binary expressions within the ${} form,
// exactly as cmd/litefs/config.go's ExpandEnv does.
func ExpandEnv(s string) string {
	return os.Expand(s, func(v string) string {
		v = strings.TrimSpace(v)

		if a := expandExprSingleQuote.FindStringSubmatch(v); a != nil {
			if a[2] == "==" {
				return strconv.FormatBool(os.Getenv(a[1]) == a[3])
			}
			return strconv.FormatBool(os.Getenv(a[1]) != a[3])
		}
		if a := expandExprDoubleQuote.FindStringSubmatch(v); a != nil {
			if a[2] == "==" {
				return strconv.FormatBool(os.Getenv(a[1]) == a[3])
			}
			return strconv.FormatBool(os.Getenv(a[1]) != a[3])
		}
		if a := expandExprVar.FindStringSubmatch(v); a != nil {
			if a[2] == "==" {
				return strconv.FormatBool(os.Getenv(a[1]) == os.Getenv(a[3]))
			}
			return strconv.FormatBool(os.Getenv(a[1]) != os.Getenv(a[3]))
		}
		return os.Getenv(v)
	})
}

var (
	expandExprSingleQuote = regexp.MustCompile(`^(\w+)\s*(==|!=)\s*'(.*)'$`)
	expandExprDoubleQuote = regexp.MustCompile(`^(\w+)\s*(==|!=)\s*"(.*)"$`)
	expandExprVar         = regexp.MustCompile(`^(\w+)\s*(==|!=)\s*(\w+)$`)
)
