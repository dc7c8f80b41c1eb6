package settings

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestLookup_TrimsAndReportsBlank(t *testing.T) {
	p := Map{"A": "  x  ", "B": "   "}
	if v, ok := Lookup(p, "A"); !ok || v != "x" {
		t.Fatalf("Lookup(A) = %q %v", v, ok)
	}
	if _, ok := Lookup(p, "B"); ok {
		t.Fatal("blank value should report absent")
	}
	if _, ok := Lookup(p, "C"); ok {
		t.Fatal("missing value should report absent")
	}
	if _, ok := Lookup(nil, "A"); ok {
		t.Fatal("nil provider should report absent")
	}
}

func TestList_SplitsAndDropsBlanks(t *testing.T) {
	p := Map{HTTPSEndpointURLs: "https://a.example/; ;https://b.example/;"}
	got := List(p, HTTPSEndpointURLs, ";")
	if strings.Join(got, "|") != "https://a.example/|https://b.example/" {
		t.Fatalf("List = %q", got)
	}
	if List(p, "MISSING", ";") != nil {
		t.Fatal("missing list should be nil")
	}
}

func TestLayered_FirstNonBlankWins(t *testing.T) {
	p := Layered(nil, Map{"A": ""}, Map{"A": "second", "B": "b"}, Map{"A": "third"})
	if got := p.Get("A"); got != "second" {
		t.Fatalf("A = %q, want second", got)
	}
	if got := p.Get("B"); got != "b" {
		t.Fatalf("B = %q", got)
	}
	if got := p.Get("Z"); got != "" {
		t.Fatalf("Z = %q, want empty", got)
	}
}

func TestEnv_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv(RedisConnectionString, "localhost:6379")
	if got := Env().Get(RedisConnectionString); got != "localhost:6379" {
		t.Fatalf("got %q", got)
	}
}

func TestParse_ScalarsBecomeStrings(t *testing.T) {
	m, err := Parse([]byte("REDIS_CONNECTION_STRING: localhost:6379\nAZURE_SERVICE_BUS_QUEUE_NAME: 42\nEMPTY:\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m[RedisConnectionString] != "localhost:6379" {
		t.Fatalf("redis = %q", m[RedisConnectionString])
	}
	if m[ServiceBusQueueName] != "42" {
		t.Fatalf("queue = %q", m[ServiceBusQueueName])
	}
	if v, ok := m["EMPTY"]; !ok || v != "" {
		t.Fatalf("EMPTY = %q %v", v, ok)
	}
}

func TestParse_RejectsNonScalar(t *testing.T) {
	if _, err := Parse([]byte("HTTPS_ENDPOINT_URLS:\n  - a\n  - b\n")); err == nil {
		t.Fatal("expected error for list value")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("key: [unclosed")); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("AZURE_KEYVAULT_URI: https://kv.vault.azure.net/\nTYPO_SETTING: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if m.Get(KeyVaultURI) != "https://kv.vault.azure.net/" {
		t.Fatalf("kv = %q", m.Get(KeyVaultURI))
	}
	unknown := m.Unknown()
	sort.Strings(unknown)
	if strings.Join(unknown, ",") != "TYPO_SETTING" {
		t.Fatalf("unknown = %v", unknown)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := "REDIS_CONNECTION_STRING: file:6379\nAZURE_KEYVAULT_URI: https://kv.vault.azure.net/\nREDIS_CONNSTRING: typo\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(RedisConnectionString, "env:6379")
	t.Setenv(KeyVaultURI, "")

	p, unknown, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Get(RedisConnectionString); got != "env:6379" {
		t.Fatalf("redis = %q, want env value", got)
	}
	if got := p.Get(KeyVaultURI); got != "https://kv.vault.azure.net/" {
		t.Fatalf("keyvault = %q, want file value when env is blank", got)
	}
	if len(unknown) != 1 || unknown[0] != "REDIS_CONNSTRING" {
		t.Fatalf("unknown = %v", unknown)
	}
}

func TestResolve_NoFileIsEnv(t *testing.T) {
	t.Setenv(S3BucketName, "artifacts")
	p, unknown, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Get(S3BucketName) != "artifacts" || unknown != nil {
		t.Fatalf("got %q %v", p.Get(S3BucketName), unknown)
	}
}

func TestResolve_MissingFile(t *testing.T) {
	if _, _, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
