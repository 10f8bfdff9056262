// Package config loads and resolves beaver's runtime configuration: a
// global [beaver] section plus per-file sections that override it, the
// same resolution order as python-beaver's get_field(field, filename) or
// get(field, None).
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// ConfigError is raised for any fatal startup misconfiguration.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid option %q: %s", e.Option, e.Reason)
}

// Config is the resolved, ready-to-query runtime configuration.
type Config struct {
	v        *viper.Viper
	sections map[string]*viper.Viper
}

// defaults mirrors the teacher's buildMainConfig SetDefault calls, adapted
// to beaver's own option set from spec.md §6.
var defaults = map[string]interface{}{
	"logstash_version":            0,
	"max_queue_size":              100,
	"number_of_consumer_processes": 1,
	"discover_interval":           15,
	"consumer_refresh_interval":   5.0,
	"sincedb_write_interval":      5,
	"sincedb_path":                "sincedb.sqlite",
	"ignore_old_files_days":       0,
	"ignore_old_files_hours":      0,
	"ignore_old_files_minutes":    0,
	"buffered_lines_max_lines":    1,
	"buffered_lines_max_bytes":    0,
	"buffered_lines_max_seconds":  0,
	"transport":                   "file",
	"shutdown_timeout":            60,
	"interval":                    0.1,
	"refresh_worker_process":      0,
	"respawn_delay":               1,
	"output_file":                 "beaver-output.log",
	"sqs_queue_url":               "",
	"sqs_aws_region":              "us-east-1",
	"sqs_bulk_lines":              false,
	"kinesis_aws_region":          "us-east-1",
	"kinesis_stream_name":         "",
	"kinesis_partition_key":       "beaver",
	"kinesis_batch_size_max":      1048576,
}

// Load reads an INI config file (python-beaver / logstash-forwarder style:
// a [beaver] section of globals plus any number of named sections that
// override per file or glob) and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Option: "configfile", Reason: err.Error()}
	}

	cfg := &Config{v: v, sections: make(map[string]*viper.Viper)}
	if err := cfg.loadSections(path); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSections re-parses the file with gopkg.in/ini.v1 directly. viper's
// own ini support nests every section under its name ("beaver.key"), so the
// [beaver] keys are lifted to the top level here, and every other section
// becomes a per-section sub-Viper so GetField can resolve in constant time.
func (c *Config) loadSections(path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return &ConfigError{Option: "configfile", Reason: err.Error()}
	}
	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			continue
		}
		if name == "beaver" {
			for _, key := range sec.Keys() {
				c.v.Set(key.Name(), key.Value())
			}
			continue
		}
		sv := viper.New()
		for _, key := range sec.Keys() {
			sv.Set(key.Name(), key.Value())
		}
		c.sections[name] = sv
	}
	return nil
}

func (c *Config) validate() error {
	lv := c.v.GetInt("logstash_version")
	if lv != 0 && lv != 1 {
		return &ConfigError{Option: "logstash_version", Reason: "must be 0 or 1"}
	}
	if c.v.GetInt("max_queue_size") <= 0 {
		return &ConfigError{Option: "max_queue_size", Reason: "must be positive"}
	}
	if c.v.GetInt("number_of_consumer_processes") <= 0 {
		return &ConfigError{Option: "number_of_consumer_processes", Reason: "must be positive"}
	}
	return nil
}

// Get resolves a global option.
func (c *Config) Get(field string) interface{} { return c.v.Get(field) }

// GetString/GetInt/GetBool/GetDuration are thin, typed wrappers kept
// separate from GetField so call sites that never need a per-file override
// read as plainly as the teacher's config.LogsAgent.GetString(...).
func (c *Config) GetString(field string) string   { return c.v.GetString(field) }
func (c *Config) GetInt(field string) int         { return c.v.GetInt(field) }
func (c *Config) GetBool(field string) bool       { return c.v.GetBool(field) }
func (c *Config) GetFloat64(field string) float64 { return c.v.GetFloat64(field) }
func (c *Config) GetDuration(field string) time.Duration {
	return time.Duration(c.v.GetFloat64(field)*float64(time.Second)) * 1
}

// GetField resolves field for a specific file/section name first, falling
// back to the global [beaver] section — the Go equivalent of
// get_field(field, filename) or get(field, None).
func (c *Config) GetField(field, section string) interface{} {
	if sv, ok := c.sections[section]; ok && sv.IsSet(field) {
		return sv.Get(field)
	}
	return c.v.Get(field)
}

func (c *Config) GetFieldString(field, section string) string {
	v := c.GetField(field, section)
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Set overrides a global option at runtime (used by tests and by
// TailManager's addglob side effect on the config object).
func (c *Config) Set(field string, value interface{}) { c.v.Set(field, value) }

// AddGlob records the paths a glob pattern currently expands to, mirroring
// BeaverConfig.addglob in python-beaver.
func (c *Config) AddGlob(pattern string, paths []string) {
	globs, _ := c.v.Get("resolved_globs").(map[string][]string)
	if globs == nil {
		globs = make(map[string][]string)
	}
	globs[pattern] = paths
	c.v.Set("resolved_globs", globs)
}

// SincedbWriteInterval is how long Tail waits between non-forced sincedb
// writes for a given file.
func (c *Config) SincedbWriteInterval() time.Duration {
	return time.Duration(c.GetInt("sincedb_write_interval")) * time.Second
}

// CanonicalPath absolutizes and cleans a path the way eglob/realpath does in
// python-beaver's update_files.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// IsLogFile reports whether name has the ".log" extension, per the
// REDESIGN FLAG fix to TailManager.listdir (string-equality on "log" was a
// bug; the intent is a file extension check).
func IsLogFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".log")
}
