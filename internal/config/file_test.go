package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setEnvForTest sets an environment variable and restores it after the test.
func setEnvForTest(t *testing.T, key, value string) {
	t.Helper()
	old, existed := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if existed {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

// unsetEnvForTest unsets an environment variable and restores it after the test.
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	old, existed := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if existed {
			os.Setenv(key, old)
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile_JSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")
	writeFile(t, path, `{
  // phone used for verification
  "phone_number": "+221770000000",
  "api_url": "http://dulayni.kajande.com:8002",
  "agent": {"model": "gpt-4o-mini", "agent_type": "deep_react",},
  "memory": {"memory_db": "memory.sqlite", "pg_uri": null, "thread_id": "221770000000"},
  /* tool servers */
  "mcpServers": {"filesystem": {"url": "http://x.nip.io/mcp", "transport": "streamable_http"}}
}`)

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if fc.PhoneNumber != "+221770000000" {
		t.Errorf("PhoneNumber = %q", fc.PhoneNumber)
	}
	if fc.Agent == nil || fc.Agent.AgentType != "deep_react" {
		t.Errorf("Agent = %+v", fc.Agent)
	}
	if fc.Memory == nil || fc.Memory.PgURI != "" || fc.Memory.ThreadID != "221770000000" {
		t.Errorf("Memory = %+v", fc.Memory)
	}
	server, ok := fc.MCPServers["filesystem"].(map[string]any)
	if !ok || server["transport"] != "streamable_http" {
		t.Errorf("MCPServers = %#v", fc.MCPServers)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
dulayni_api_key_file: .dulayni_key
agent:
  model: gpt-5-mini
output:
  stream: true
  print_mode: json
filesystem:
  enabled: false
  directories: [src, docs]
`)

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if fc.APIKeyFile != ".dulayni_key" || fc.Agent.Model != "gpt-5-mini" {
		t.Errorf("LoadFile() = %+v", fc)
	}
	if fc.Output == nil || !fc.Output.Stream || fc.Output.PrintMode != "json" {
		t.Errorf("Output = %+v", fc.Output)
	}
	if fc.Filesystem == nil || fc.Filesystem.Enabled == nil || *fc.Filesystem.Enabled {
		t.Errorf("Filesystem.Enabled should be false: %+v", fc.Filesystem)
	}
	if len(fc.Filesystem.Directories) != 2 {
		t.Errorf("Directories = %v", fc.Filesystem.Directories)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "nope.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("LoadFile(missing) error = %v, want fs.ErrNotExist", err)
	}

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"phone_number": 12}`)
	if _, err := LoadFile(bad); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Errorf("LoadFile(bad) error = %v, want parse error", err)
	}
}

func TestFileConfig_SaveAndReload(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config", name)
			fc := NewProjectConfig(TemplateOptions{PhoneNumber: "+221770000000"})

			if err := fc.Save(path); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if got.PhoneNumber != fc.PhoneNumber || got.Agent.Model != fc.Agent.Model {
				t.Errorf("reloaded config = %+v, want %+v", got, fc)
			}
			if _, ok := got.MCPServers["filesystem"]; !ok {
				t.Errorf("MCPServers lost on reload: %#v", got.MCPServers)
			}
		})
	}
}

func TestNewProjectConfig(t *testing.T) {
	t.Run("phone flow", func(t *testing.T) {
		fc := NewProjectConfig(TemplateOptions{PhoneNumber: "+221770000000", RelayHost: "10.0.0.1"})

		data, _ := json.Marshal(fc)
		if strings.Contains(string(data), "dulayni_api_key") {
			t.Errorf("phone template should not mention a key: %s", data)
		}
		server := fc.MCPServers["filesystem"].(map[string]any)
		if server["url"] != "http://221770000000.10.0.0.1.nip.io/mcp" {
			t.Errorf("mcp url = %v", server["url"])
		}
		if fc.Memory.ThreadID != "221770000000" {
			t.Errorf("ThreadID = %q", fc.Memory.ThreadID)
		}
		if fc.Tunnel == nil || fc.Tunnel.Host != "10.0.0.1" {
			t.Errorf("non-default relay should be recorded, got %+v", fc.Tunnel)
		}
	})

	t.Run("key flow", func(t *testing.T) {
		fc := NewProjectConfig(TemplateOptions{APIKeyFile: ".dulayni_key"})

		if fc.APIKeyFile != ".dulayni_key" || fc.APIKey != "" {
			t.Errorf("key template should reference the key file only: %+v", fc)
		}
		if fc.MCPServers != nil {
			t.Errorf("no tunnel id, so no MCP server expected: %#v", fc.MCPServers)
		}
	})
}

func TestNewProjectConfig_OnlyWritesUsedAgentKeys(t *testing.T) {
	fc := NewProjectConfig(TemplateOptions{PhoneNumber: "+221770000000"})
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"startup_timeout", "parallel_tool_calls"} {
		if strings.Contains(string(data), key) {
			t.Errorf("template should not write %q: %s", key, data)
		}
	}
}

func TestLoadFile_IgnoresRetiredAgentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
  "phone_number": "+221770000000",
  "agent": {"model": "gpt-4o", "startup_timeout": 30, "parallel_tool_calls": true}
}`)

	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if fc.Agent == nil || fc.Agent.Model != "gpt-4o" {
		t.Errorf("agent = %+v", fc.Agent)
	}
}

func TestAPIKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".dulayni_key")
	if err := WriteAPIKeyFile(path, " sk-abc \n"); err != nil {
		t.Fatalf("WriteAPIKeyFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	key, err := ReadAPIKeyFile(path)
	if err != nil || key != "sk-abc" {
		t.Errorf("ReadAPIKeyFile() = %q, %v; want sk-abc", key, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "DULAYNI_TEST_FROM_FILE=file\nDULAYNI_TEST_PRESET=file\n")

	unsetEnvForTest(t, "DULAYNI_TEST_FROM_FILE")
	setEnvForTest(t, "DULAYNI_TEST_PRESET", "process")
	t.Cleanup(func() { os.Unsetenv("DULAYNI_TEST_FROM_FILE") })

	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("DULAYNI_TEST_FROM_FILE"); got != "file" {
		t.Errorf("DULAYNI_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("DULAYNI_TEST_PRESET"); got != "process" {
		t.Errorf("existing variables must win, got %q", got)
	}
}
