package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	cmds := root.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "status", "plan", "doctor", "apikey", "nuke"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
}

func TestNewRootCmd_hasHomeFlag(t *testing.T) {
	root := NewRootCmd("")
	f := root.PersistentFlags().Lookup("home")
	if f == nil {
		t.Fatal("expected --home persistent flag")
	}
}

func TestApikeyGenerate(t *testing.T) {
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"apikey", "generate", "--home", t.TempDir()})
	if err := root.Execute(); err != nil {
		t.Fatalf("apikey generate: %v", err)
	}
	out := buf.String()
	hexKey := regexp.MustCompile(`(?m)^  ([a-f0-9]{64})$`)
	if !hexKey.MatchString(out) {
		t.Errorf("output should contain a 64-char hex key on its own line; got:\n%s", out)
	}
	if !regexp.MustCompile(`CONTENTD_API_KEY`).MatchString(out) {
		t.Errorf("output should mention CONTENTD_API_KEY")
	}
	if !regexp.MustCompile(`X-API-Key`).MatchString(out) {
		t.Errorf("output should mention X-API-Key")
	}
}

func TestPlanCommands_requireID(t *testing.T) {
	for _, sub := range []string{"get", "start", "cancel", "watch"} {
		root := NewRootCmd("")
		var buf bytes.Buffer
		root.SetOut(&buf)
		root.SetErr(&buf)
		root.SetArgs([]string{"plan", sub, "--home", t.TempDir()})
		if err := root.Execute(); err == nil {
			t.Errorf("plan %s without --id should fail", sub)
		}
	}
}

func TestPlanList_daemonNotRunning(t *testing.T) {
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"plan", "list", "--home", t.TempDir()})
	err := root.Execute()
	if err == nil {
		t.Fatal("plan list without a daemon should fail")
	}
	if !regexp.MustCompile(`not running`).MatchString(err.Error()) {
		t.Errorf("error: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nCLI_TEST_KEY=value1\n\nCLI_TEST_OTHER = spaced \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLI_TEST_KEY", "")
	t.Setenv("CLI_TEST_OTHER", "")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("CLI_TEST_KEY"); got != "value1" {
		t.Errorf("CLI_TEST_KEY: %q", got)
	}
	if got := os.Getenv("CLI_TEST_OTHER"); got != "spaced" {
		t.Errorf("CLI_TEST_OTHER: %q", got)
	}
}

func TestDoctor_missingLLMKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	root := NewRootCmd("")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"doctor", "--home", t.TempDir()})
	if err := root.Execute(); err == nil {
		t.Fatal("doctor should fail without an LLM API key")
	}
	if !regexp.MustCompile(`OPENAI_API_KEY`).MatchString(errOut.String()) {
		t.Errorf("stderr: %q", errOut.String())
	}
}

func TestDoctor_ok(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	root := NewRootCmd("")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"doctor", "--home", t.TempDir()})
	if err := root.Execute(); err != nil {
		t.Fatalf("doctor: %v", err)
	}
	if !regexp.MustCompile(`ok`).MatchString(buf.String()) {
		t.Errorf("output: %q", buf.String())
	}
}
