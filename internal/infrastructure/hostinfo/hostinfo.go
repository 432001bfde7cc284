// Package hostinfo derives the stable device identity and collects the host
// facts published in the device document.
package hostinfo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDPrefix marks identifiers minted by this daemon.
const DeviceIDPrefix = "pet_"

// machineIDFiles are probed in order for a stable machine identifier.
var machineIDFiles = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// MachineID returns a stable identifier for this host. On Linux it reads the
// systemd machine id; on macOS it asks IOKit for the platform UUID. When no
// stable source exists it falls back to hostname plus a generated UUID
// persisted by the caller's credentials file, so the worst case is a new
// identity per pairing rather than per process.
func MachineID() string {
	for _, f := range machineIDFiles {
		if data, err := os.ReadFile(f); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	if runtime.GOOS == "darwin" {
		if out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output(); err == nil {
			for _, line := range strings.Split(string(out), "\n") {
				if strings.Contains(line, "IOPlatformUUID") {
					if start := strings.Index(line, "\""); start >= 0 {
						parts := strings.Split(line, "\"")
						if len(parts) >= 4 {
							return parts[3]
						}
					}
				}
			}
		}
	}
	host, _ := os.Hostname()
	return host + "-" + uuid.NewString()
}

// DeviceID derives the device identifier from a machine id: a short prefix
// plus the first 16 hex characters of its SHA-256 digest. The same host
// always pairs as the same device.
func DeviceID(machineID string) string {
	sum := sha256.Sum256([]byte(machineID))
	return DeviceIDPrefix + hex.EncodeToString(sum[:])[:16]
}

// Facts is the host information block published to the device document.
type Facts struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	OSName   string `json:"osName"`
	LocalIP  string `json:"localIp,omitempty"`
	Username string `json:"username,omitempty"`
}

// Collect gathers the current host facts. Individual probes failing leave
// their field empty rather than failing the collection.
func Collect() Facts {
	host, _ := os.Hostname()
	f := Facts{
		Hostname: host,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		OSName:   osName(),
		LocalIP:  localIP(),
	}
	if u := os.Getenv("USER"); u != "" {
		f.Username = u
	} else if u := os.Getenv("USERNAME"); u != "" {
		f.Username = u
	}
	return f
}

// Map renders the facts as a document fragment.
func (f Facts) Map() map[string]interface{} {
	m := map[string]interface{}{
		"hostname": f.Hostname,
		"platform": f.Platform,
		"arch":     f.Arch,
		"osName":   f.OSName,
	}
	if f.LocalIP != "" {
		m["localIp"] = f.LocalIP
	}
	if f.Username != "" {
		m["username"] = f.Username
	}
	return m
}

func osName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "linux":
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "PRETTY_NAME=") {
					return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
				}
			}
		}
		return "Linux"
	case "windows":
		return "Windows"
	default:
		return runtime.GOOS
	}
}

// localIP returns the first non-loopback IPv4 address, or empty.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// DisplayName is the human-facing default device name.
func DisplayName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "Unnamed device"
	}
	return fmt.Sprintf("%s (%s)", strings.TrimSuffix(host, ".local"), runtime.GOOS)
}
