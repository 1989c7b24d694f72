package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// Environment variable names
const (
	EnvAPIURL       = "DULAYNI_API_URL"
	EnvAPIKey       = "DULAYNI_API_KEY"
	EnvPhoneNumber  = "DULAYNI_PHONE_NUMBER"
	EnvLegacyPhone  = "PHONE_NUMBER"
	EnvModel        = "DULAYNI_MODEL"
	EnvAgentType    = "DULAYNI_AGENT_TYPE"
	EnvThreadID     = "DULAYNI_THREAD_ID"
	EnvLogLevel     = "DULAYNI_LOG_LEVEL"
	EnvLogFormat    = "DULAYNI_LOG_FORMAT"
	EnvRelayHost    = "DULAYNI_RELAY_HOST"
	EnvTunnelSecret = "DULAYNI_TUNNEL_TOKEN"
)

// Print modes
const (
	PrintModeRich = "rich"
	PrintModeJSON = "json"
)

// Errors
var (
	ErrNoCredentials    = errors.New("no authentication configured: set phone_number or dulayni_api_key in the config, pass --phone-number/--dulayni-key, or export " + EnvPhoneNumber + "/" + EnvAPIKey)
	ErrInvalidPrintMode = errors.New("invalid print mode. Use 'rich' or 'json'")
	ErrInvalidPort      = errors.New("invalid port")
	ErrInvalidAPIURL    = errors.New("invalid API URL")
)

// ConfigurationError reports that no usable configuration could be built.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Method is the authentication protocol an identity uses.
type Method int

const (
	MethodNone Method = iota
	MethodPhone
	MethodKey
)

func (m Method) String() string {
	switch m {
	case MethodPhone:
		return "phone"
	case MethodKey:
		return "dulayni_api_key"
	default:
		return "none"
	}
}

// Identity is the authentication material chosen for this invocation.
// With MethodKey the phone number may still be set; it is only used to
// name the tunnel.
type Identity struct {
	Method      Method
	PhoneNumber string
	APIKey      string
}

// TunnelID returns the identity's tunnel identifier, or "" without a phone.
func (i Identity) TunnelID() string {
	return TunnelID(i.PhoneNumber)
}

// TunnelID turns a phone number into a DNS-safe label: "+221 77-000" becomes
// "22177000".
func TunnelID(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FilesystemSettings configures the local filesystem helper.
type FilesystemSettings struct {
	Enabled     bool
	Port        int
	Directories []string
}

// TunnelSettings configures the reverse-tunnel sidecar.
type TunnelSettings struct {
	Enabled    bool
	Host       string
	ServerPort int
	Token      string
}

// Config is the effective parameter set after merging every source.
type Config struct {
	APIURL      string
	PhoneNumber string
	APIKey      string

	// Agent defaults sent with each query. Empty means "let the server decide".
	Model        string
	AgentType    string
	SystemPrompt string
	ThreadID     string
	MemoryDB     string
	PgURI        string
	MCPServers   map[string]any

	PrintMode      string
	Stream         bool
	RequestTimeout time.Duration

	Filesystem FilesystemSettings
	Tunnel     TunnelSettings

	// Warnings collects non-fatal problems met while resolving, such as an
	// unreadable key file.
	Warnings []string
}

// Overrides holds values given on the command line. Zero values mean the
// flag was not given.
type Overrides struct {
	APIURL       string
	PhoneNumber  string
	APIKey       string
	Model        string
	AgentType    string
	SystemPrompt string
	ThreadID     string
	MemoryDB     string
	PgURI        string
	PrintMode    string
	Stream       *bool
	Timeout      time.Duration
	FSPort       int
	RelayHost    string
	NoFilesystem bool
	NoTunnel     bool
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Resolver merges the config file, CLI overrides and environment.
// Precedence, highest first: CLI, config file, environment, built-in default.
type Resolver struct {
	lookup LookupFunc
}

// NewResolver creates a resolver. A nil lookup uses os.LookupEnv.
func NewResolver(lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Resolver{lookup: lookup}
}

func (r *Resolver) env(key string) string {
	v, _ := r.lookup(key)
	return strings.TrimSpace(v)
}

// Resolve builds the effective Config. fc may be nil when no config file
// exists.
func (r *Resolver) Resolve(fc *FileConfig, cli Overrides) *Config {
	if fc == nil {
		fc = &FileConfig{}
	}
	agent := fc.agent()
	memory := fc.memory()
	output := fc.output()
	fsCfg := fc.filesystem()
	tunnel := fc.tunnel()

	cfg := &Config{
		APIURL:       first(cli.APIURL, fc.APIURL, r.env(EnvAPIURL), constants.DefaultAPIURL),
		PhoneNumber:  first(cli.PhoneNumber, fc.PhoneNumber, r.env(EnvPhoneNumber), r.env(EnvLegacyPhone)),
		Model:        first(cli.Model, agent.Model, r.env(EnvModel)),
		AgentType:    first(cli.AgentType, agent.AgentType, r.env(EnvAgentType)),
		SystemPrompt: first(cli.SystemPrompt, agent.SystemPrompt),
		ThreadID:     first(cli.ThreadID, memory.ThreadID, r.env(EnvThreadID)),
		MemoryDB:     first(cli.MemoryDB, memory.MemoryDB),
		PgURI:        first(cli.PgURI, memory.PgURI),
		MCPServers:   fc.MCPServers,
		PrintMode:    first(cli.PrintMode, output.PrintMode, constants.DefaultPrintMode),
		Stream:       output.Stream,
	}
	if cli.Stream != nil {
		cfg.Stream = *cli.Stream
	}

	cfg.APIKey = first(cli.APIKey, fc.APIKey)
	if cfg.APIKey == "" && fc.APIKeyFile != "" {
		key, err := ReadAPIKeyFile(fc.APIKeyFile)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, err.Error())
		}
		cfg.APIKey = key
	}
	if cfg.APIKey == "" {
		cfg.APIKey = r.env(EnvAPIKey)
	}

	cfg.RequestTimeout = constants.DefaultRequestTimeout
	switch {
	case cli.Timeout > 0:
		cfg.RequestTimeout = cli.Timeout
	case fc.RequestTimeout > 0:
		cfg.RequestTimeout = time.Duration(fc.RequestTimeout * float64(time.Second))
	}

	cfg.Filesystem = FilesystemSettings{
		Enabled:     !cli.NoFilesystem && enabled(fsCfg.Enabled),
		Port:        firstPort(cli.FSPort, fsCfg.Port, constants.DefaultFilesystemPort),
		Directories: fsCfg.Directories,
	}
	cfg.Tunnel = TunnelSettings{
		Enabled:    !cli.NoTunnel && enabled(tunnel.Enabled),
		Host:       first(cli.RelayHost, tunnel.Host, r.env(EnvRelayHost), constants.DefaultRelayHost),
		ServerPort: firstPort(tunnel.ServerPort, constants.DefaultRelayPort),
		Token:      first(tunnel.Token, r.env(EnvTunnelSecret), constants.DefaultTunnelToken),
	}

	return cfg
}

// Identity picks the authentication method. A static key wins over a phone
// number; having neither is a ConfigurationError.
func (c *Config) Identity() (Identity, error) {
	switch {
	case c.APIKey != "":
		return Identity{Method: MethodKey, APIKey: c.APIKey, PhoneNumber: c.PhoneNumber}, nil
	case c.PhoneNumber != "":
		return Identity{Method: MethodPhone, PhoneNumber: c.PhoneNumber}, nil
	default:
		return Identity{}, &ConfigurationError{Err: ErrNoCredentials}
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.PrintMode != PrintModeRich && c.PrintMode != PrintModeJSON {
		return fmt.Errorf("%w: %q", ErrInvalidPrintMode, c.PrintMode)
	}
	if c.Filesystem.Port <= 0 || c.Filesystem.Port > 65535 {
		return fmt.Errorf("%w: filesystem port %d", ErrInvalidPort, c.Filesystem.Port)
	}
	if c.Tunnel.ServerPort <= 0 || c.Tunnel.ServerPort > 65535 {
		return fmt.Errorf("%w: tunnel server port %d", ErrInvalidPort, c.Tunnel.ServerPort)
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAPIURL, c.APIURL)
	}
	return nil
}

// Summary returns display pairs for the startup banner.
func (c *Config) Summary() [][2]string {
	orDefault := func(v string) string {
		if v == "" {
			return "server default"
		}
		return v
	}
	memory := c.MemoryDB
	if memory == "" {
		memory = c.PgURI
	}
	auth := "phone " + c.PhoneNumber
	if c.APIKey != "" {
		auth = "dulayni API key"
	}
	return [][2]string{
		{"API", c.APIURL},
		{"Auth", auth},
		{"Model", orDefault(c.Model)},
		{"Agent type", orDefault(c.AgentType)},
		{"Thread ID", orDefault(c.ThreadID)},
		{"Memory", orDefault(memory)},
	}
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstPort(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func enabled(b *bool) bool {
	return b == nil || *b
}
