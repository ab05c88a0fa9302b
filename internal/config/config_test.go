package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "test.toml", `
[server]
port = 9090
metrics_port = 9091
log_level = "debug"
data_dir = "`+dir+`"

[upstream]
api_base = "https://llm.example.com/v1"
model = "test-model"
temperature = 0.4

[assistant]
default_name = "Mio"

[routing]
reply_aliases = ["/yui", "/assist"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Upstream.APIBase != "https://llm.example.com/v1" {
		t.Errorf("APIBase: got %q", cfg.Upstream.APIBase)
	}
	if cfg.Upstream.Temperature != 0.4 {
		t.Errorf("Temperature: got %v, want 0.4", cfg.Upstream.Temperature)
	}
	if cfg.Assistant.DefaultName != "Mio" {
		t.Errorf("DefaultName: got %q, want %q", cfg.Assistant.DefaultName, "Mio")
	}
	// Unset keys keep their defaults.
	if cfg.Assistant.DefaultStyle != DefaultStyle {
		t.Errorf("DefaultStyle: got %q, want %q", cfg.Assistant.DefaultStyle, DefaultStyle)
	}
	if len(cfg.Routing.ReplyAliases) != 2 || cfg.Routing.ReplyAliases[1] != "/assist" {
		t.Errorf("ReplyAliases: got %v", cfg.Routing.ReplyAliases)
	}
	if ConfigFilePath() != configPath {
		t.Errorf("ConfigFilePath: got %q, want %q", ConfigFilePath(), configPath)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "test.toml", `
[server]
port = 8787
data_dir = "`+dir+`"
`)

	t.Setenv("ANCHOR_SERVER_PORT", "8888")
	t.Setenv("ANCHOR_UPSTREAM_TIMEOUT", "15")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Port with env override: got %d, want 8888", cfg.Server.Port)
	}
	if cfg.Upstream.TimeoutDuration() != 15*time.Second {
		t.Errorf("upstream timeout: got %v, want 15s", cfg.Upstream.TimeoutDuration())
	}
}

func TestLoad_OpenAIModelEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "test.toml", `
[server]
data_dir = "`+dir+`"
`)

	t.Setenv("OPENAI_MODEL", "gpt-4.1-mini")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Model != "gpt-4.1-mini" {
		t.Errorf("Model: got %q, want %q", cfg.Upstream.Model, "gpt-4.1-mini")
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "bad.toml", `
[server]
port = 0
data_dir = "`+dir+`"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestLoad_ValidationFailure_SamePorts(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "same-ports.toml", `
[server]
port = 7777
metrics_port = 7777
data_dir = "`+dir+`"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for same ports")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Upstream.Model != DefaultModel {
		t.Errorf("Model: got %q, want %q", cfg.Upstream.Model, DefaultModel)
	}
	if cfg.Upstream.Temperature < 0.3 || cfg.Upstream.Temperature > 0.4 {
		t.Errorf("Temperature: got %v, want a value in [0.3, 0.4]", cfg.Upstream.Temperature)
	}
	if cfg.Routing.ProxyPrefix != "/api" {
		t.Errorf("ProxyPrefix: got %q, want /api", cfg.Routing.ProxyPrefix)
	}

	// Mutating one default config must not leak into the next.
	cfg.Routing.ReplyAliases[0] = "/changed"
	if DefaultConfig().Routing.ReplyAliases[0] != "/yui" {
		t.Error("DefaultConfig shares the ReplyAliases slice")
	}
}

func TestUpstreamConfig_TimeoutDuration(t *testing.T) {
	tests := []struct {
		timeout int
		want    time.Duration
	}{
		{0, 0},
		{-1, 0},
		{60, 60 * time.Second},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		u := UpstreamConfig{Timeout: tt.timeout}
		if got := u.TimeoutDuration(); got != tt.want {
			t.Errorf("TimeoutDuration(%d): got %v, want %v", tt.timeout, got, tt.want)
		}
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Upstream.Model = "exported-model"
	set(cfg)
	t.Cleanup(func() { set(DefaultConfig()) })

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	// Round-trip through Load to prove the exported file is a valid config.
	loaded, err := Load(exportPath)
	if err != nil {
		t.Fatalf("Load exported: %v", err)
	}
	if loaded.Upstream.Model != "exported-model" {
		t.Errorf("Model after export: got %q, want %q", loaded.Upstream.Model, "exported-model")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.anchor"); got != filepath.Join(home, ".anchor") {
		t.Errorf("ExpandHome: got %q", got)
	}
	if got := ExpandHome("/var/lib/anchor"); got != "/var/lib/anchor" {
		t.Errorf("ExpandHome absolute: got %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "watched.toml", `
[server]
log_level = "info"
data_dir = "`+dir+`"
`)
	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { set(DefaultConfig()) })

	w, err := Watch(configPath)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	reloaded := make(chan Change, 1)
	w.OnChange(func(c Change) {
		select {
		case reloaded <- c:
		default:
		}
	})

	content := `
[server]
log_level = "debug"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case c := <-reloaded:
		if c.New.Server.LogLevel != "debug" {
			t.Errorf("reloaded log level: got %q, want debug", c.New.Server.LogLevel)
		}
		if !c.LogLevelChanged() || !c.Has("server") {
			t.Errorf("change should report the server log level: %+v", c.Sections)
		}
		if pending := c.RestartRequired(); len(pending) != 0 {
			t.Errorf("a log level edit needs no restart, got %v", pending)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatch_EmptyPath(t *testing.T) {
	if _, err := Watch(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestWatch_InvalidEditKeepsConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "invalid.toml", `
[server]
data_dir = "`+dir+`"
`)
	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { set(DefaultConfig()) })
	before := Get()

	w, err := Watch(configPath)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	called := make(chan struct{}, 1)
	w.OnChange(func(Change) { called <- struct{}{} })

	if err := os.WriteFile(configPath, []byte("[server]\nport = 0\ndata_dir = \""+dir+"\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-called:
		t.Fatal("callback ran for a config that fails validation")
	case <-time.After(500 * time.Millisecond):
	}
	if Get() != before {
		t.Error("invalid edit replaced the active config")
	}
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := Watch(writeConfig(t, "close.toml", ""))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestChangedSections(t *testing.T) {
	old := DefaultConfig()
	next := DefaultConfig()
	if got := changedSections(old, next); len(got) != 0 {
		t.Fatalf("identical configs: got %v", got)
	}

	next.Server.LogLevel = "debug"
	next.Upstream.Model = "gpt-4.1-mini"
	next.Routing.ReplyAliases = []string{"/yui", "/assist"}

	c := Change{Old: old, New: next, Sections: changedSections(old, next)}
	want := []string{"server", "upstream", "routing"}
	if len(c.Sections) != len(want) {
		t.Fatalf("sections: got %v, want %v", c.Sections, want)
	}
	for i := range want {
		if c.Sections[i] != want[i] {
			t.Errorf("sections[%d]: got %q, want %q", i, c.Sections[i], want[i])
		}
	}
	if c.Has("cors") {
		t.Error("cors reported as changed")
	}

	pending := c.RestartRequired()
	if len(pending) != 2 || pending[0] != "upstream" || pending[1] != "routing" {
		t.Errorf("RestartRequired: got %v, want [upstream routing]", pending)
	}

	next.Server.Port = 9999
	c.Sections = changedSections(old, next)
	if pending := c.RestartRequired(); len(pending) != 3 || pending[0] != "server" {
		t.Errorf("port change should require restart, got %v", pending)
	}
}
