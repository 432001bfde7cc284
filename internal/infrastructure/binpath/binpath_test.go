package binpath

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSortVersionsDesc(t *testing.T) {
	versions := []string{"v18.20.4", "v22.1.0", "v20.11.1", "v22.0.0"}
	sortVersionsDesc(versions)
	want := []string{"v22.1.0", "v22.0.0", "v20.11.1", "v18.20.4"}
	for i, v := range want {
		if versions[i] != v {
			t.Fatalf("sorted = %v, want %v", versions, want)
		}
	}
}

func TestParseVersionMalformed(t *testing.T) {
	if got := parseVersion("v20"); got != [3]int{20, 0, 0} {
		t.Errorf("v20 = %v", got)
	}
	if got := parseVersion("vweird.1"); got != [3]int{0, 1, 0} {
		t.Errorf("vweird.1 = %v", got)
	}
}

func TestSearchVersionDirsPicksNewest(t *testing.T) {
	base := t.TempDir()
	for _, v := range []string{"v18.0.0", "v22.3.0", "v20.5.1"} {
		binDir := filepath.Join(base, v, "bin")
		if err := os.MkdirAll(binDir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(binDir, "agent"), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}

	got := searchVersionDirs(base, "bin", "agent")
	if !strings.Contains(got, "v22.3.0") {
		t.Errorf("picked %q, want the v22.3.0 install", got)
	}
}

func TestSearchVersionDirsSkipsNonExecutable(t *testing.T) {
	base := t.TempDir()
	newer := filepath.Join(base, "v22.0.0", "bin")
	older := filepath.Join(base, "v20.0.0", "bin")
	for _, d := range []string{newer, older} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(newer, "agent"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(older, "agent"), []byte("x"), 0755); err != nil {
		t.Fatal(err)
	}

	got := searchVersionDirs(base, "bin", "agent")
	if !strings.Contains(got, "v20.0.0") {
		t.Errorf("picked %q, want the executable v20.0.0 install", got)
	}
}

func TestEnvForBinPrependsPath(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	env := EnvForBin("/opt/tools/bin/agent")

	var path string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	if !strings.HasPrefix(path, "/opt/tools/bin"+string(os.PathListSeparator)) {
		t.Errorf("PATH = %q, want bin dir prepended", path)
	}
	if !strings.Contains(path, "/usr/bin") {
		t.Errorf("PATH = %q, original entries lost", path)
	}
}
