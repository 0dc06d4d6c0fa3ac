package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".sdb"
	configFile string = "config.yml"

	// DefaultListen is the address the console listens on when none is
	// configured.
	DefaultListen = "127.0.0.1:9999"
)

// Environment variables read by LoadConfig. They override the config file.
const (
	EnvEnableBasic    = "ENABLE_BASIC"
	EnvBasicUsername  = "BASIC_USERNAME"
	EnvBasicPassword  = "BASIC_PASSWORD"
	EnvListen         = "SDB_LISTEN"
	redactedPassword  = "******"
	unsupportedFormat = "unsupported config format %q, use .yml, .yaml or .toml"
)

// Duration is a time.Duration written as a string ("1.5s", "200ms") in
// config files.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// TLSConfig enables TLS on the console listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert-file" toml:"cert-file" json:"certFile"`
	KeyFile  string `yaml:"key-file" toml:"key-file" json:"keyFile"`
	// CAFile, when set, makes the listener require client certificates
	// signed by it.
	CAFile string `yaml:"ca-file" toml:"ca-file" json:"caFile"`
}

// AuthConfig is the HTTP basic authentication gate in front of the console.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Listen is the host:port of the console server.
	Listen string     `yaml:"listen" toml:"listen" json:"listen"`
	TLS    TLSConfig  `yaml:"tls" toml:"tls" json:"tls"`
	Auth   AuthConfig `yaml:"auth" toml:"auth" json:"auth"`

	// Broadcast sends the output of every command to all connected
	// operators instead of only the one that issued it.
	Broadcast bool `yaml:"broadcast" toml:"broadcast" json:"broadcast"`

	// WaitTimeout bounds attach, next, step and exec. Zero waits forever.
	WaitTimeout Duration `yaml:"wait-timeout" toml:"wait-timeout" json:"waitTimeout"`
	// PollInterval is how often a waiting command checks the target.
	PollInterval Duration `yaml:"poll-interval" toml:"poll-interval" json:"pollInterval"`
	// PingInterval is the period of server pings on idle connections.
	PingInterval Duration `yaml:"ping-interval" toml:"ping-interval" json:"pingInterval"`
	// AcceptBackoff is how long the listener sleeps after running out of
	// file descriptors or memory.
	AcceptBackoff Duration `yaml:"accept-backoff" toml:"accept-backoff" json:"acceptBackoff"`

	// SourceListLineCount is the number of lines shown above and below the
	// current line by bt, frame and list.
	SourceListLineCount int `yaml:"source-list-line-count" toml:"source-list-line-count" json:"sourceListLineCount"`
	// SourceCacheSize is the number of source files kept in memory.
	SourceCacheSize int `yaml:"source-cache-size" toml:"source-cache-size" json:"sourceCacheSize"`

	// MaxStringLen is the maximum string length that print, exec and vars
	// show.
	MaxStringLen int `yaml:"max-string-len" toml:"max-string-len" json:"maxStringLen"`
	// MaxArrayValues is the maximum number of array items that print, exec
	// and vars show.
	MaxArrayValues int `yaml:"max-array-values" toml:"max-array-values" json:"maxArrayValues"`
	// MaxVariableRecurse is how deep nested values are followed.
	MaxVariableRecurse int `yaml:"max-variable-recurse" toml:"max-variable-recurse" json:"maxVariableRecurse"`
	// MaxStructFields is the maximum number of struct fields shown, -1
	// shows all of them.
	MaxStructFields int `yaml:"max-struct-fields" toml:"max-struct-fields" json:"maxStructFields"`

	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases" toml:"aliases" json:"aliases"`
}

// Default returns the configuration used when no file and no environment
// override is present.
func Default() *Config {
	return &Config{
		Listen:              DefaultListen,
		Broadcast:           true,
		WaitTimeout:         Duration(60 * time.Second),
		PollInterval:        Duration(10 * time.Millisecond),
		PingInterval:        Duration(30 * time.Second),
		AcceptBackoff:       Duration(time.Second),
		SourceListLineCount: 5,
		SourceCacheSize:     64,
		MaxStringLen:        64,
		MaxArrayValues:      64,
		MaxVariableRecurse:  1,
		MaxStructFields:     -1,
	}
}

// LoadConfig builds a Config from the defaults, the file at path and the
// environment, in this order. If path is empty ~/.sdb/config.yml is used
// when it exists.
func LoadConfig(path string) (*Config, error) {
	c := Default()
	if path == "" {
		p, err := GetConfigFilePath(configFile)
		if err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		if err := c.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open config file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("unable to read config data: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf(unsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("unable to decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEnableBasic); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvEnableBasic, v, err)
		}
		c.Auth.Enabled = b
	}
	if v, ok := lookup(EnvBasicUsername); ok {
		c.Auth.Username = v
	}
	if v, ok := lookup(EnvBasicPassword); ok {
		c.Auth.Password = v
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
	return nil
}

// Validate reports configurations the console server can not start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls is enabled but cert-file or key-file is missing"))
	}
	if c.Auth.Enabled && c.Auth.Username == "" {
		errs = append(errs, errors.New("basic auth is enabled without a username"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll-interval must be positive"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy of c with secrets blanked, fit to be shown to
// operators.
func (c *Config) Redacted() *Config {
	r := *c
	if r.Auth.Password != "" {
		r.Auth.Password = redactedPassword
	}
	if c.Aliases != nil {
		r.Aliases = make(map[string][]string, len(c.Aliases))
		for k, v := range c.Aliases {
			r.Aliases[k] = append([]string(nil), v...)
		}
	}
	return &r
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config, path string) error {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		out, err = yaml.Marshal(*conf)
	case ".toml":
		out, err = toml.Marshal(*conf)
	default:
		return fmt.Errorf(unsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}

// DefaultConfigFile returns the commented default configuration file.
func DefaultConfigFile() string {
	return `# Configuration file for the sdb console.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Address the console listens on. Overridden by SDB_LISTEN and --listen.
# listen: "127.0.0.1:9999"

# tls:
#   enabled: true
#   cert-file: /path/to/cert.pem
#   key-file: /path/to/key.pem
#   ca-file: /path/to/ca.pem

# HTTP basic authentication. Overridden by ENABLE_BASIC, BASIC_USERNAME
# and BASIC_PASSWORD.
# auth:
#   enabled: true
#   username: admin
#   password: secret

# Send command output to every connected operator.
# broadcast: true

# Maximum time attach, next, step and exec wait for a coroutine. 0s waits forever.
# wait-timeout: 60s
# poll-interval: 10ms
# ping-interval: 30s
# accept-backoff: 1s

# Number of lines shown around the current line by bt, frame and list.
# source-list-line-count: 5
# source-cache-size: 64

# Maximum loaded string length.
# max-string-len: 64

# Maximum number of elements loaded from an array.
# max-array-values: 64

# Maximum depth of nested values.
# max-variable-recurse: 1

# Maximum number of struct fields, -1 loads all of them.
# max-struct-fields: -1

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]
`
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
