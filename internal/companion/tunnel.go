package companion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kajande/dulayni-cli/internal/constants"
)

const (
	frpcConfigFile    = "frpc.toml"
	composeFile       = "docker-compose.yml"
	containerConfPath = "/etc/frp/frpc.toml"
)

// TunnelSpec describes the reverse tunnel exposing the filesystem helper.
type TunnelSpec struct {
	// ID names the tunnel; it becomes the first label of the public domain.
	ID         string
	Host       string
	ServerPort int
	Token      string
	LocalPort  int
	// Dir receives frpc.toml and docker-compose.yml.
	Dir string
}

func (s TunnelSpec) withDefaults() TunnelSpec {
	if s.Host == "" {
		s.Host = constants.DefaultRelayHost
	}
	if s.ServerPort == 0 {
		s.ServerPort = constants.DefaultRelayPort
	}
	if s.Token == "" {
		s.Token = constants.DefaultTunnelToken
	}
	if s.LocalPort == 0 {
		s.LocalPort = constants.DefaultFilesystemPort
	}
	if s.Dir == "" {
		s.Dir = constants.TunnelConfigDir
	}
	return s
}

// Domain is the public name the relay routes to this tunnel.
func (s TunnelSpec) Domain() string {
	s = s.withDefaults()
	return fmt.Sprintf("%s.%s.nip.io", s.ID, s.Host)
}

type frpcConfig struct {
	ServerAddr string      `toml:"serverAddr"`
	ServerPort int         `toml:"serverPort"`
	Auth       frpcAuth    `toml:"auth"`
	Proxies    []frpcProxy `toml:"proxies"`
}

type frpcAuth struct {
	Method string `toml:"method"`
	Token  string `toml:"token"`
}

type frpcProxy struct {
	Name          string   `toml:"name"`
	Type          string   `toml:"type"`
	LocalPort     int      `toml:"localPort"`
	CustomDomains []string `toml:"customDomains"`
}

// RenderFRPCConfig returns the frpc.toml content for spec.
func RenderFRPCConfig(spec TunnelSpec) ([]byte, error) {
	spec = spec.withDefaults()
	return toml.Marshal(frpcConfig{
		ServerAddr: spec.Host,
		ServerPort: spec.ServerPort,
		Auth:       frpcAuth{Method: "token", Token: spec.Token},
		Proxies: []frpcProxy{{
			Name:          constants.TunnelProxyName,
			Type:          "http",
			LocalPort:     spec.LocalPort,
			CustomDomains: []string{spec.Domain()},
		}},
	})
}

type composeFileSpec struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	NetworkMode   string            `yaml:"network_mode"`
	Command       []string          `yaml:"command"`
	Volumes       []string          `yaml:"volumes"`
	Labels        map[string]string `yaml:"labels"`
	Restart       string            `yaml:"restart"`
}

// RenderCompose returns a docker-compose.yml equivalent to the container
// the Docker engine launches, for users managing the sidecar by hand.
func RenderCompose(spec TunnelSpec) ([]byte, error) {
	spec = spec.withDefaults()
	return yaml.Marshal(composeFileSpec{
		Services: map[string]composeService{
			"frpc": {
				Image:         constants.TunnelImage,
				ContainerName: constants.TunnelContainerName,
				NetworkMode:   "host",
				Command:       []string{"-c", containerConfPath},
				Volumes:       []string{"./" + frpcConfigFile + ":" + containerConfPath + ":ro"},
				Labels:        map[string]string{constants.TunnelLabel: spec.ID},
				Restart:       "unless-stopped",
			},
		},
	})
}

// WriteTunnelFiles writes frpc.toml and docker-compose.yml into spec.Dir
// and returns the absolute path of frpc.toml.
func WriteTunnelFiles(spec TunnelSpec) (string, error) {
	spec = spec.withDefaults()
	if err := os.MkdirAll(spec.Dir, 0755); err != nil {
		return "", fmt.Errorf("create tunnel dir: %w", err)
	}

	conf, err := RenderFRPCConfig(spec)
	if err != nil {
		return "", fmt.Errorf("render frpc config: %w", err)
	}
	confPath, err := filepath.Abs(filepath.Join(spec.Dir, frpcConfigFile))
	if err != nil {
		return "", err
	}
	// the auth token lives in this file
	if err := os.WriteFile(confPath, conf, 0600); err != nil {
		return "", fmt.Errorf("write frpc config: %w", err)
	}

	compose, err := RenderCompose(spec)
	if err != nil {
		return "", fmt.Errorf("render compose file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(spec.Dir, composeFile), compose, 0644); err != nil {
		return "", fmt.Errorf("write compose file: %w", err)
	}
	return confPath, nil
}

// TunnelEngine runs tunnel sidecars.
type TunnelEngine interface {
	// Available reports whether the engine can be used at all.
	Available(ctx context.Context) bool
	// Running reports whether a sidecar tagged with id is running.
	Running(ctx context.Context, id string) (bool, error)
	// Launch (re)creates and starts the sidecar for spec.
	Launch(ctx context.Context, spec TunnelSpec, configPath string) error
	// Stop removes the sidecar.
	Stop(ctx context.Context) error
}

// TunnelStatus is the result of EnsureTunnelSidecar.
type TunnelStatus int

const (
	// TunnelUnavailable means no sidecar runs; the session continues without it.
	TunnelUnavailable TunnelStatus = iota
	// TunnelReused means a sidecar for the same id was already running.
	TunnelReused
	// TunnelStarted means this call launched the sidecar.
	TunnelStarted
)

func (s TunnelStatus) String() string {
	switch s {
	case TunnelReused:
		return "reused"
	case TunnelStarted:
		return "started"
	default:
		return "unavailable"
	}
}
