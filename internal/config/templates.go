package config

import (
	"fmt"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// TemplateOptions describes a freshly initialised project.
type TemplateOptions struct {
	PhoneNumber string
	APIKeyFile  string
	APIURL      string
	RelayHost   string
}

// MCPServerURL is where the remote agent reaches the tunnelled filesystem
// helper for the given identifier.
func MCPServerURL(tunnelID, relayHost string) string {
	return fmt.Sprintf("http://%s.%s.nip.io/mcp", tunnelID, relayHost)
}

// NewProjectConfig builds the config written by `dulayni init`. The key
// flow points at the key file instead of embedding the key. The filesystem
// MCP server is only advertised when a phone number names the tunnel.
func NewProjectConfig(opts TemplateOptions) *FileConfig {
	relay := opts.RelayHost
	if relay == "" {
		relay = constants.DefaultRelayHost
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = constants.HostedAPIURL
	}

	fc := &FileConfig{
		APIURL: apiURL,
		Agent: &AgentConfig{
			Model:        constants.DefaultModel,
			AgentType:    constants.DefaultAgentType,
			SystemPrompt: constants.TemplateSystemPrompt,
		},
		Memory: &MemoryConfig{
			MemoryDB: constants.DefaultMemoryDB,
		},
	}

	fc.PhoneNumber = opts.PhoneNumber
	fc.APIKeyFile = opts.APIKeyFile

	if id := TunnelID(opts.PhoneNumber); id != "" {
		fc.Memory.ThreadID = id
		fc.MCPServers = map[string]any{
			constants.TemplateMCPServerName: map[string]any{
				"url":       MCPServerURL(id, relay),
				"transport": constants.TemplateMCPTransport,
			},
		}
		if relay != constants.DefaultRelayHost {
			fc.Tunnel = &TunnelConfig{Host: relay}
		}
	}
	return fc
}
