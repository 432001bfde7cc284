// Package binpath locates the agent CLI binary across the installation
// layouts users actually have. Service managers start the daemon with a
// minimal PATH, so PATH lookup is the last resort, not the first.
package binpath

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Find searches for the named binary in this order: the directory of the
// running executable, nvm installs (newest version first), fnm installs,
// volta, common install prefixes, then PATH. Returns empty when not found.
func Find(name string) string {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if isExecutable(candidate) {
			return candidate
		}
	}

	home, _ := os.UserHomeDir()

	if bin := searchVersionDirs(filepath.Join(home, ".nvm", "versions", "node"), "bin", name); bin != "" {
		return bin
	}

	for _, fnmBase := range []string{
		filepath.Join(home, ".local", "share", "fnm", "node-versions"),
		filepath.Join(home, "Library", "Application Support", "fnm", "node-versions"),
	} {
		if bin := searchVersionDirs(fnmBase, filepath.Join("installation", "bin"), name); bin != "" {
			return bin
		}
	}

	if bin := filepath.Join(home, ".volta", "bin", name); isExecutable(bin) {
		return bin
	}

	for _, dir := range []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "bin"),
		"/usr/bin",
	} {
		if bin := filepath.Join(dir, name); isExecutable(bin) {
			return bin
		}
	}

	if bin, err := exec.LookPath(name); err == nil {
		return bin
	}
	return ""
}

// EnvForBin returns the process environment with the binary's directory
// prepended to PATH, so version-manager shims resolve their own runtime.
func EnvForBin(binPath string) []string {
	binDir := filepath.Dir(binPath)
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+binDir+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+binDir)
	}
	return out
}

// Version reports the named binary's --version output, trimmed. Returns
// empty when the binary is missing or the probe fails.
func Version(name string) string {
	bin := Find(name)
	if bin == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "--version")
	cmd.Env = EnvForBin(bin)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// searchVersionDirs scans a version-manager base directory for vX.Y.Z
// entries, newest first, and returns the first existing binary under
// <base>/<version>/<binSubdir>/<name>.
func searchVersionDirs(baseDir, binSubdir, name string) string {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return ""
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "v") {
			versions = append(versions, e.Name())
		}
	}
	sortVersionsDesc(versions)
	for _, v := range versions {
		bin := filepath.Join(baseDir, v, binSubdir, name)
		if isExecutable(bin) {
			return bin
		}
	}
	return ""
}

// sortVersionsDesc orders vX.Y.Z strings newest first. Non-numeric segments
// compare as zero.
func sortVersionsDesc(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		a := parseVersion(versions[i])
		b := parseVersion(versions[j])
		for k := 0; k < 3; k++ {
			if a[k] != b[k] {
				return a[k] > b[k]
			}
		}
		return false
	})
}

func parseVersion(v string) [3]int {
	var out [3]int
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	for i := 0; i < 3 && i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err == nil {
			out[i] = n
		}
	}
	return out
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}
