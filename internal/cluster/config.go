// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cluster runs commands and copies files across the machines that
// host a simulation, and builds the simulator on them.
package cluster

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"go.sirikata.org/harness/errors"
)

// Host is one machine of the cluster.
type Host struct {
	// Name identifies the host in logs and results.
	Name string `yaml:"name"`
	// Target is "[user@]host[:port]". Empty or "localhost" runs commands
	// directly on this machine.
	Target string `yaml:"target"`
	// CodeDir overrides Config.CodeDir for this host.
	CodeDir string `yaml:"code_dir"`
}

// Local reports whether commands for h run on this machine.
func (h Host) Local() bool { return h.Target == "" || h.Target == "localhost" }

// SSHConfig holds connection settings shared by all remote hosts.
type SSHConfig struct {
	KeyFile        string        `yaml:"key_file"`
	KeyDir         string        `yaml:"key_dir"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConnectRetries int           `yaml:"connect_retries"`
}

// Binaries names the simulator executables, relative to a host's code dir
// unless absolute.
type Binaries struct {
	Space      string `yaml:"space"`
	ObjectHost string `yaml:"object_host"`
	Analysis   string `yaml:"analysis"`
	Graph      string `yaml:"graph"`
}

// Reporting configures live result publishing.
type Reporting struct {
	// Broker is an MQTT broker URL such as "tcp://localhost:1883".
	// Publishing is disabled when empty.
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// Config describes the cluster. It is loaded once and must not be modified
// afterwards; every component receives the same value.
type Config struct {
	Hosts []Host `yaml:"hosts"`
	// CodeDir is the checkout location on each host.
	CodeDir string `yaml:"code_dir"`
	// Repository is cloned by Builder.Checkout.
	Repository string `yaml:"repository"`
	// CCache requests compiler caching when the hosts support it.
	CCache bool `yaml:"ccache"`
	// MaxParallel caps concurrent host operations. Zero means no cap.
	MaxParallel int `yaml:"max_parallel"`

	SSH       SSHConfig `yaml:"ssh"`
	Binaries  Binaries  `yaml:"binaries"`
	Reporting Reporting `yaml:"reporting"`
}

// Defaults applied by ParseConfig when a field is left unset.
const (
	DefaultCodeDir        = "cbr"
	DefaultConnectTimeout = 10 * time.Second
	DefaultTopic          = "harness"
)

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cluster config")
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, errors.Wrapf(err, "bad cluster config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes YAML, validates it and fills in defaults. A config
// without hosts describes a single local host.
func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if cfg.CodeDir == "" {
		cfg.CodeDir = DefaultCodeDir
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Reporting.Topic == "" {
		cfg.Reporting.Topic = DefaultTopic
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []Host{{Name: "localhost"}}
	}
	seen := make(map[string]bool)
	for i, h := range cfg.Hosts {
		if h.Name == "" {
			h.Name = h.Target
			if h.Name == "" {
				h.Name = "localhost"
			}
			cfg.Hosts[i] = h
		}
		if seen[h.Name] {
			return nil, errors.Errorf("duplicate host %q", h.Name)
		}
		seen[h.Name] = true
	}
	return &cfg, nil
}

// HostCodeDir returns the checkout location on h.
func (c *Config) HostCodeDir(h Host) string {
	if h.CodeDir != "" {
		return h.CodeDir
	}
	return c.CodeDir
}

// ErrNoHosts is returned when an operation is given no usable host.
var ErrNoHosts = errors.New("no hosts selected")

// Select returns the named hosts in the given order, or every host when no
// names are given.
func (c *Config) Select(names ...string) ([]Host, error) {
	if len(names) == 0 {
		return append([]Host(nil), c.Hosts...), nil
	}
	byName := make(map[string]Host, len(c.Hosts))
	for _, h := range c.Hosts {
		byName[h.Name] = h
	}
	var hosts []Host
	for _, n := range names {
		h, ok := byName[n]
		if !ok {
			return nil, errors.Wrapf(ErrNoHosts, "unknown host %q", n)
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}
