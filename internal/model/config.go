package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"reflect"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/creasty/defaults"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	// ConfigEnv names the environment variable with a path to the config file
	ConfigEnv = "CIPHERLENSCONFIG"
)

// Config is the cipher-lens configuration
type Config struct {
	Version    int           `json:"version" yaml:"version"` // fixed 0 for now
	Classifier Classifier    `json:"classifier" yaml:"classifier"`
	Enumerator Enumerator    `json:"enumerator" yaml:"enumerator"`
	Server     Server        `json:"server" yaml:"server"`
	Service    ServiceFields `json:"service" yaml:"service"`
}

// Classifier configures the ciphersuite catalog client.
type Classifier struct {
	URL     string `json:"url" yaml:"url" default:"https://ciphersuite.info/api/cs/"`
	Timeout string `json:"timeout" yaml:"timeout" default:"30s"`
	Cache   Cache  `json:"cache" yaml:"cache"`
}

// Cache stores the catalog in a sqlite file, so repeated runs do not hit the network.
// serve shares the database with the assessments when Path equals server.state_file.
type Cache struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	TTL     string `json:"ttl" yaml:"ttl" default:"24h"`
	Path    string `json:"path" yaml:"path" default:"cipher-lens.db"`
}

// Enumerator configures the sslscan invocation.
type Enumerator struct {
	Binary  string   `json:"binary" yaml:"binary" default:"sslscan"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Workers int      `json:"workers" yaml:"workers" default:"4"`
	Timeout string   `json:"timeout" yaml:"timeout" default:"5m"`
}

// Server configures the serve command.
type Server struct {
	Addr      string   `json:"addr" yaml:"addr" default:":8080"`
	StateFile string   `json:"state_file" yaml:"state_file" default:"cipher-lens.db"`
	Refresh   *Refresh `json:"refresh,omitempty" yaml:"refresh,omitempty"`
}

// Refresh is the catalog refresh schedule of the server. Exactly one of
// Cron or Duration is set.
type Refresh struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type ServiceFields struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log" default:"stderr"` // "stderr"|"stdout"|"discard"|path
}

func (c Classifier) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout)
}

func (c Cache) TTLDuration() time.Duration {
	return mustDuration(c.TTL)
}

func (e Enumerator) TimeoutDuration() time.Duration {
	return mustDuration(e.Timeout)
}

// Interval returns the time between two catalog refreshes. Zero means
// no refresh is configured.
func (r *Refresh) Interval() (time.Duration, error) {
	switch {
	case r == nil:
		return 0, nil
	case r.Cron != "":
		return ParseCron(r.Cron)
	case r.Duration != "":
		return time.ParseDuration(r.Duration)
	default:
		return 0, nil
	}
}

// durations are validated by the schema, zero is returned only for empty strings
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx    *cue.Context
	cueConfig cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	cueConfig = compiled.LookupPath(cue.ParsePath("#Config"))
	if cueConfig.Err() != nil {
		panic(cueConfig.Err())
	}
	if err := cueConfig.Validate(); err != nil {
		panic(err)
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Missing values are filled with defaults and ${ENV} references are expanded.
// NOT SAFE for multiple goroutines
// Return CueError in a case validation phase fails
func LoadConfig(r io.Reader) (Config, error) {
	var ret Config
	if err := loadConfig(r, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}

// LoadConfigFromPath is LoadConfig reading the path. Path - means stdin.
func LoadConfigFromPath(path string) (Config, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("error opening config file: %w", err)
		}
		r = f
		defer func() {
			err := f.Close()
			if err != nil {
				slog.Error("can't close config file", "path", path, "error", err)
			}
		}()
	}
	cfg, err := LoadConfig(r)
	if err != nil {
		var cuerr CueError
		if errors.As(err, &cuerr) {
			for _, d := range cuerr.Details() {
				slog.Error("validation error", d.Attr("detail"))
			}
		}
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func loadConfig(r io.Reader, cfg *Config) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	yamlFile, err := yaml.Extract("config.yaml", bytes.NewReader(b))
	if err != nil {
		return err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := cueConfig.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return CueError{cuerr: err, config: yamlValue, schema: cueConfig}
	}

	if err := unified.Decode(cfg); err != nil {
		return err
	}

	expandEnvValue(reflect.ValueOf(cfg).Elem())
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("setting defaults: %w", err)
	}
	return nil
}

func expandEnvValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandEnvValue(v.Field(i))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			expandEnvValue(v.Elem())
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandEnvValue(v.Index(i))
		}
	default:
		// other kinds ignored
	}
}

// CueError provides more user friendly validation errors on top of
// those generated by cuelang itself
type CueError struct {
	cuerr  error
	config cue.Value // content of --config file
	schema cue.Value // loaded cue schema
}

// Error implements error interface, returns the string content of underlying
// cue error
func (e CueError) Error() string {
	return e.cuerr.Error()
}

// Unwrap allows one to get the underlying error via errors.As
func (e CueError) Unwrap() error {
	return e.cuerr
}

// Details provide human-friendlier error messages
func (e CueError) Details() []CueErrorDetail {
	return humanize(e.cuerr)
}

// DefaultConfig returns a default configuration for cipher-lens.
// It warns when sslscan is not on PATH, as scan would fail later.
func DefaultConfig(ctx context.Context) Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		// only possible with a broken default tag
		panic(err)
	}
	if _, err := exec.LookPath(cfg.Enumerator.Binary); err != nil {
		slog.WarnContext(ctx, "sslscan binary not found", "binary", cfg.Enumerator.Binary)
	}
	return cfg
}
