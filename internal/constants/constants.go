// Package constants provides shared constants used across the application
// to avoid circular dependencies between packages.
package constants

import "time"

// Version is reported in the User-Agent header and by the root command.
const Version = "0.4.0"

// Timeout constants used across the application
const (
	// DefaultRequestTimeout bounds a single agent call (agent runs can take a while)
	DefaultRequestTimeout = 300 * time.Second
	// HealthCheckTimeout bounds a remote or local health probe
	HealthCheckTimeout = 5 * time.Second
	// ShutdownRequestTimeout bounds the graceful shutdown request sent to a helper
	ShutdownRequestTimeout = 1 * time.Second
	// HelperStartTimeout is how long a freshly spawned helper has to become healthy
	HelperStartTimeout = 5 * time.Second
	// HelperPollInterval is the sleep between helper health polls
	HelperPollInterval = 200 * time.Millisecond
	// HelperStopWait bounds the wait for a terminated helper to exit
	HelperStopWait = 2 * time.Second
	// PortProbeTimeout bounds the dial used to decide whether a port is free
	PortProbeTimeout = 300 * time.Millisecond
	// SessionTTL is how long a verified phone session stays valid
	SessionTTL = 24 * time.Hour
)

// Application defaults
const (
	DefaultAPIURL     = "http://localhost:8002"
	DefaultConfigPath = "config/config.json"
	DefaultModel      = "gpt-4o-mini"
	DefaultAgentType  = "deep_react"
	DefaultMemoryDB   = "memory.sqlite"
	DefaultPrintMode  = "rich"
)

// Values written into freshly generated project configs. The client itself
// leaves these unset so the server picks its own defaults.
const (
	HostedAPIURL          = "http://dulayni.kajande.com:8002"
	TemplateSystemPrompt  = "You are a helpful assistant for customer support tasks."
	TemplateMCPServerName = "filesystem"
	TemplateMCPTransport  = "streamable_http"
)

// Companion process defaults
const (
	DefaultFilesystemPort = 8003
	DefaultRelayHost      = "157.230.76.226"
	DefaultRelayPort      = 7000
	DefaultTunnelToken    = "supersecret"
	TunnelProxyName       = "client-app"
	TunnelContainerName   = "dulayni-frpc"
	TunnelImage           = "snowdreamtech/frpc:0.60.0"
	TunnelLabel           = "dulayni.tunnel.id"
	TunnelConfigDir       = ".frpc"
)

// Local file names
const (
	StateDirName    = ".dulayni"
	SessionFileName = "session.json"
	HistoryFileName = "history.json"
	APIKeyFileName  = ".dulayni_key"
	MaxHistory      = 100
)

// APIKeyPrefix is the prefix every issued dulayni key carries.
const APIKeyPrefix = "sk-"
