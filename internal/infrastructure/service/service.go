// Package service registers the daemon with the user's service manager so
// it survives reboots: a launchd agent on macOS, a systemd user unit on
// Linux.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

const (
	launchdLabel = "com.jbctechsolutions.petsync"
	systemdUnit  = "petsync-daemon"
)

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
    <string>{{.Binary}}</string>
    <string>run</string>
  </array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><true/>
  <key>StandardOutPath</key><string>{{.LogFile}}</string>
  <key>StandardErrorPath</key><string>{{.LogFile}}</string>
  <key>EnvironmentVariables</key>
  <dict>
    <key>PATH</key><string>/usr/local/bin:/usr/bin:/bin:{{.BinDir}}</string>
    <key>HOME</key><string>{{.Home}}</string>
  </dict>
</dict>
</plist>
`

const unitTemplate = `[Unit]
Description=Petsync Daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Binary}} run
Restart=always
RestartSec=10
Environment=HOME={{.Home}}
Environment=PATH=/usr/local/bin:/usr/bin:/bin:{{.BinDir}}

[Install]
WantedBy=default.target
`

type unitParams struct {
	Label   string
	Binary  string
	BinDir  string
	Home    string
	LogFile string
}

// Install registers the daemon with the platform service manager and starts
// it. The service runs the current executable with the run subcommand.
func Install(logFile string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home: %w", err)
	}

	params := unitParams{
		Label:   launchdLabel,
		Binary:  binary,
		BinDir:  filepath.Dir(binary),
		Home:    home,
		LogFile: logFile,
	}

	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(home, params)
	case "linux":
		return installSystemd(home, params)
	default:
		return fmt.Errorf("service install not supported on %s", runtime.GOOS)
	}
}

// Uninstall stops and removes the registered service. Missing registrations
// are not an error.
func Uninstall() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		p := plistPath(home)
		exec.Command("launchctl", "unload", p).Run()
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	case "linux":
		exec.Command("systemctl", "--user", "stop", systemdUnit).Run()
		exec.Command("systemctl", "--user", "disable", systemdUnit).Run()
		if err := os.Remove(unitPath(home)); err != nil && !os.IsNotExist(err) {
			return err
		}
		exec.Command("systemctl", "--user", "daemon-reload").Run()
		return nil
	default:
		return fmt.Errorf("service uninstall not supported on %s", runtime.GOOS)
	}
}

// Restart kicks the registered service so the manager relaunches the
// daemon binary. Used after a self-update.
func Restart() error {
	switch runtime.GOOS {
	case "darwin":
		target := fmt.Sprintf("gui/%d/%s", os.Getuid(), launchdLabel)
		if out, err := exec.Command("launchctl", "kickstart", "-k", target).CombinedOutput(); err != nil {
			return fmt.Errorf("launchctl kickstart: %s: %w", strings.TrimSpace(string(out)), err)
		}
		return nil
	case "linux":
		if out, err := exec.Command("systemctl", "--user", "restart", systemdUnit).CombinedOutput(); err != nil {
			return fmt.Errorf("systemctl restart: %s: %w", strings.TrimSpace(string(out)), err)
		}
		return nil
	default:
		return fmt.Errorf("service restart not supported on %s", runtime.GOOS)
	}
}

// Running reports whether the service manager considers the daemon active.
func Running() bool {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("launchctl", "list").Output()
		if err != nil {
			return false
		}
		return strings.Contains(string(out), launchdLabel)
	case "linux":
		out, err := exec.Command("systemctl", "--user", "is-active", systemdUnit).Output()
		if err != nil {
			return false
		}
		return strings.TrimSpace(string(out)) == "active"
	default:
		return false
	}
}

func installLaunchd(home string, params unitParams) error {
	p := plistPath(home)
	if err := writeRendered(p, plistTemplate, params); err != nil {
		return err
	}
	exec.Command("launchctl", "unload", p).Run()
	if out, err := exec.Command("launchctl", "load", p).CombinedOutput(); err != nil {
		return fmt.Errorf("launchctl load: %s: %w", out, err)
	}
	return nil
}

func installSystemd(home string, params unitParams) error {
	p := unitPath(home)
	if err := writeRendered(p, unitTemplate, params); err != nil {
		return err
	}
	for _, args := range [][]string{
		{"--user", "daemon-reload"},
		{"--user", "enable", systemdUnit},
		{"--user", "restart", systemdUnit},
	} {
		if out, err := exec.Command("systemctl", args...).CombinedOutput(); err != nil {
			return fmt.Errorf("systemctl %v: %s: %w", args, out, err)
		}
	}
	return nil
}

func writeRendered(path, tmpl string, params unitParams) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create service dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create service file: %w", err)
	}
	defer f.Close()

	t, err := template.New("unit").Parse(tmpl)
	if err != nil {
		return err
	}
	return t.Execute(f, params)
}

func plistPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func unitPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit+".service")
}
