package container

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/network"
)

func TestBridgeGateway(t *testing.T) {
	configs := []network.IPAMConfig{
		{Subnet: "172.17.0.0/16", Gateway: "172.17.0.1"},
	}
	got, err := bridgeGateway(configs)
	if err != nil {
		t.Fatalf("bridgeGateway: %v", err)
	}
	if got != "172.17.0.1" {
		t.Errorf("gateway = %q, want 172.17.0.1", got)
	}
}

func TestBridgeGateway_SkipsEntriesWithoutGateway(t *testing.T) {
	configs := []network.IPAMConfig{
		{Subnet: "fd00::/64"},
		{Subnet: "172.17.0.0/16", Gateway: "172.17.0.1"},
	}
	got, err := bridgeGateway(configs)
	if err != nil {
		t.Fatalf("bridgeGateway: %v", err)
	}
	if got != "172.17.0.1" {
		t.Errorf("gateway = %q, want 172.17.0.1", got)
	}
}

func TestBridgeGateway_NoGateway(t *testing.T) {
	if _, err := bridgeGateway(nil); err == nil {
		t.Error("expected error for empty IPAM config")
	}
}

func TestResolverFor(t *testing.T) {
	if _, ok := resolverFor("darwin", nil).(loopbackResolver); !ok {
		t.Error("darwin should use loopback resolver")
	}
	if _, ok := resolverFor("windows", nil).(loopbackResolver); !ok {
		t.Error("windows should use loopback resolver")
	}
	if _, ok := resolverFor("linux", nil).(bridgeGatewayResolver); !ok {
		t.Error("linux should use bridge gateway resolver")
	}
}

func TestLoopbackResolver(t *testing.T) {
	addr, err := loopbackResolver{}.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if addr != "127.0.0.1" {
		t.Errorf("addr = %q", addr)
	}
}

func TestOCIRuntimeFor(t *testing.T) {
	tests := []struct {
		name   string
		nested bool
		runsc  bool
		want   string
	}{
		{"nested wins over gvisor", true, true, "sysbox-runc"},
		{"nested without gvisor", true, false, "sysbox-runc"},
		{"gvisor when advertised", false, true, "runsc"},
		{"engine default", false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ociRuntimeFor(tt.nested, tt.runsc); got != tt.want {
				t.Errorf("ociRuntimeFor(%v, %v) = %q, want %q", tt.nested, tt.runsc, got, tt.want)
			}
		})
	}
}

func TestEnvStrings_PreservesOrder(t *testing.T) {
	env := []EnvVar{
		{Name: "MINION_API_BASE_URL", Value: "http://host.docker.internal:8080/api/"},
		{Name: "MINION_API_TOKEN", Value: "secret"},
	}
	got := envStrings(env)
	want := []string{
		"MINION_API_BASE_URL=http://host.docker.internal:8080/api/",
		"MINION_API_TOKEN=secret",
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("env[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 137}
	if !strings.Contains(err.Error(), "137") {
		t.Errorf("Error() = %q, want exit code included", err.Error())
	}
}

func TestTarDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scripts", "entry.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	buf, err := tarDirectory(dir)
	if err != nil {
		t.Fatalf("tarDirectory: %v", err)
	}

	entries := map[string]string{}
	tr := tar.NewReader(buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar: %v", err)
		}
		content, _ := io.ReadAll(tr)
		entries[hdr.Name] = string(content)
	}

	if entries["Dockerfile"] != "FROM scratch\n" {
		t.Errorf("Dockerfile content = %q", entries["Dockerfile"])
	}
	if entries["scripts/entry.sh"] != "#!/bin/sh\n" {
		t.Errorf("entry.sh content = %q", entries["scripts/entry.sh"])
	}
}

func TestDrainJSONStream_BuildOutput(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM scratch\n"}{"stream":" ---> done\n"}`
	var out strings.Builder
	if err := drainJSONStream(strings.NewReader(stream), &out); err != nil {
		t.Fatalf("drainJSONStream: %v", err)
	}
	if !strings.Contains(out.String(), "Step 1/2") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDrainJSONStream_ErrorMidStream(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM scratch\n"}{"error":"no such layer"}`
	err := drainJSONStream(strings.NewReader(stream), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "no such layer") {
		t.Errorf("err = %v, want in-stream error surfaced", err)
	}
}
