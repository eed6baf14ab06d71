package debug

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "sandbox", map[string]bool{"sandbox": true}},
		{"multiple", "sandbox,tools", map[string]bool{"sandbox": true, "tools": true}},
		{"with spaces", " session , mcp ", map[string]bool{"session": true, "mcp": true}},
		{"uppercase normalized", "SANDBOX,Tools", map[string]bool{"sandbox": true, "tools": true}},
		{"empty segments", "sandbox,,tools", map[string]bool{"sandbox": true, "tools": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("len(got) = %d, want %d", len(got), len(tt.want))
			}
			for k := range tt.want {
				if !got[k] {
					t.Errorf("category %q missing", k)
				}
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("sandbox,session")
	if !Enabled("sandbox") || !Enabled("session") {
		t.Error("configured categories should be enabled")
	}
	if Enabled("tools") {
		t.Error("tools should not be enabled")
	}

	categories = parseCategories("all")
	if !Enabled("anything") {
		t.Error("all should enable every category")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitJSONToWriter(t *testing.T) {
	t.Setenv("SANDBOX_MCP_DEBUG", "")
	t.Setenv("SANDBOX_MCP_LOG_LEVEL", "")
	orig := slog.Default()
	origCats := categories
	defer func() {
		slog.SetDefault(orig)
		categories = origCats
	}()

	var buf bytes.Buffer
	Init(Options{Categories: "tools", Level: "DEBUG", Format: "json", Output: &buf})

	Log("tools", "visible", "k", "v")
	Log("sandbox", "hidden")

	out := buf.String()
	if !strings.Contains(out, `"msg":"visible"`) {
		t.Errorf("expected JSON debug line, got %q", out)
	}
	if !strings.Contains(out, `"debug":"tools"`) {
		t.Errorf("expected category attribute, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("disabled category leaked: %q", out)
	}
}

func TestInitEnvOverridesLevel(t *testing.T) {
	t.Setenv("SANDBOX_MCP_LOG_LEVEL", "ERROR")
	orig := slog.Default()
	defer slog.SetDefault(orig)

	var buf bytes.Buffer
	Init(Options{Level: "DEBUG", Output: &buf})
	slog.Info("should not appear")
	if buf.Len() != 0 {
		t.Errorf("INFO logged at ERROR level: %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q", got)
	}
}
