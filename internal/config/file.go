package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/subosito/gotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the project configuration file. JSON files may
// carry comments; .yaml/.yml files are read as YAML.
type FileConfig struct {
	PhoneNumber    string  `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	APIURL         string  `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	APIKey         string  `json:"dulayni_api_key,omitempty" yaml:"dulayni_api_key,omitempty"`
	APIKeyFile     string  `json:"dulayni_api_key_file,omitempty" yaml:"dulayni_api_key_file,omitempty"`
	RequestTimeout float64 `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"` // seconds

	Agent      *AgentConfig      `json:"agent,omitempty" yaml:"agent,omitempty"`
	Memory     *MemoryConfig     `json:"memory,omitempty" yaml:"memory,omitempty"`
	MCPServers map[string]any    `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty"`
	Tunnel     *TunnelConfig     `json:"tunnel,omitempty" yaml:"tunnel,omitempty"`
	Filesystem *FilesystemConfig `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Output     *OutputConfig     `json:"output,omitempty" yaml:"output,omitempty"`
}

// AgentConfig holds the agent defaults sent with every query.
type AgentConfig struct {
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	AgentType    string `json:"agent_type,omitempty" yaml:"agent_type,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// MemoryConfig selects the server-side conversation memory.
type MemoryConfig struct {
	MemoryDB string `json:"memory_db,omitempty" yaml:"memory_db,omitempty"`
	PgURI    string `json:"pg_uri,omitempty" yaml:"pg_uri,omitempty"`
	ThreadID string `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
}

// TunnelConfig configures the reverse-tunnel sidecar.
type TunnelConfig struct {
	Enabled    *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	ServerPort int    `json:"server_port,omitempty" yaml:"server_port,omitempty"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
}

// FilesystemConfig configures the local filesystem helper.
type FilesystemConfig struct {
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Port        int      `json:"port,omitempty" yaml:"port,omitempty"`
	Directories []string `json:"directories,omitempty" yaml:"directories,omitempty"`
}

// OutputConfig holds default output flags.
type OutputConfig struct {
	Stream    bool   `json:"stream,omitempty" yaml:"stream,omitempty"`
	PrintMode string `json:"print_mode,omitempty" yaml:"print_mode,omitempty"`
}

func (fc *FileConfig) agent() AgentConfig {
	if fc.Agent == nil {
		return AgentConfig{}
	}
	return *fc.Agent
}

func (fc *FileConfig) memory() MemoryConfig {
	if fc.Memory == nil {
		return MemoryConfig{}
	}
	return *fc.Memory
}

func (fc *FileConfig) output() OutputConfig {
	if fc.Output == nil {
		return OutputConfig{}
	}
	return *fc.Output
}

func (fc *FileConfig) filesystem() FilesystemConfig {
	if fc.Filesystem == nil {
		return FilesystemConfig{}
	}
	return *fc.Filesystem
}

func (fc *FileConfig) tunnel() TunnelConfig {
	if fc.Tunnel == nil {
		return TunnelConfig{}
	}
	return *fc.Tunnel
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile reads a config file. A missing file returns an error matching
// fs.ErrNotExist so callers can fall back to an empty config.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc FileConfig
	if isYAML(path) {
		err = yaml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(jsonc.ToJSON(data), &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// Save writes fc to path in the format implied by its extension, creating
// the parent directory.
func (fc *FileConfig) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(fc)
	} else {
		data, err = json.MarshalIndent(fc, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ReadAPIKeyFile returns the trimmed key stored at path.
func ReadAPIKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read API key file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteAPIKeyFile stores key at path readable only by the owner.
func WriteAPIKeyFile(path, key string) error {
	if err := os.WriteFile(path, []byte(strings.TrimSpace(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write API key file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to restrict API key file: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables that are already set win; missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := gotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}
