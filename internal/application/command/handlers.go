package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	"github.com/jbctechsolutions/petsync/internal/domain/device"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/binpath"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/hostinfo"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/localstate"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/service"
)

// defaultRegistryURL is the package registry queried for update checks.
const defaultRegistryURL = "https://registry.npmjs.org"

// Deps carries everything the built-in handlers touch. The exec and lookup
// hooks default to the real implementations and exist so tests can run
// handlers without spawning processes.
type Deps struct {
	DeviceID      string
	DaemonVersion string

	// AgentPackage and DaemonPackage are the registry package names used
	// for update checks and installs.
	AgentPackage  string
	DaemonPackage string

	Store   ports.DocumentStore
	Local   *localstate.Store
	Gateway ports.GatewayController

	// Codec is optional; without it refresh_info skips secret upload.
	Codec ports.SecretCodec

	// Push re-publishes full device state after a handler changes it.
	// Optional.
	Push func(ctx context.Context) error

	// AgentVersion probes the installed agent version, "" when unknown.
	AgentVersion func() string

	Logger *logging.Logger

	RegistryURL    string
	HTTPClient     *http.Client
	FindBin        func(name string) string
	RunCmd         func(ctx context.Context, dir, bin string, env []string, args ...string) (string, error)
	RestartService func() error

	// DaemonSourceDir enables the git fallback for daemon updates when it
	// contains a checkout. Empty disables the fallback.
	DaemonSourceDir string
}

// NewRegistry returns the built-in action registry bound to deps.
func NewRegistry(deps Deps) Registry {
	if deps.RegistryURL == "" {
		deps.RegistryURL = defaultRegistryURL
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if deps.FindBin == nil {
		deps.FindBin = binpath.Find
	}
	if deps.RunCmd == nil {
		deps.RunCmd = runCmd
	}
	if deps.RestartService == nil {
		deps.RestartService = service.Restart
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.AgentVersion == nil {
		deps.AgentVersion = func() string { return "" }
	}
	h := &handlers{deps: deps}
	return Registry{
		"check_agent_update": h.checkAgentUpdate,
		"update_agent":       h.updateAgent,
		"restart_gateway":    h.restartGateway,
		"update_daemon":      h.updateDaemon,
		"detect_agent":       h.detectAgent,
		"refresh_info":       h.refreshInfo,
	}
}

type handlers struct {
	deps Deps
}

// checkAgentUpdate compares the installed agent version against the
// registry's latest release. Registry failures report "latest unknown"
// rather than erroring the command.
func (h *handlers) checkAgentUpdate(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	current := h.deps.AgentVersion()
	latest := h.latestVersion(ctx, h.deps.AgentPackage)
	updateAvailable := latest != "" && current != "" && latest != current

	msg := fmt.Sprintf("up to date (%s)", current)
	if updateAvailable {
		msg = fmt.Sprintf("update available: %s -> %s", current, latest)
	}
	return map[string]interface{}{
		"message":         msg,
		"current":         current,
		"latest":          latest,
		"updateAvailable": updateAvailable,
	}, nil
}

// updateAgent installs the latest agent release and restarts the gateway
// when the version actually changed. Install failures are reported in the
// result rather than as a command error so the remote side always gets the
// before/after versions.
func (h *handlers) updateAgent(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	oldVersion := h.deps.AgentVersion()
	npm := h.deps.FindBin("npm")
	if npm == "" {
		return map[string]interface{}{
			"message":    "npm not found",
			"oldVersion": oldVersion,
			"newVersion": oldVersion,
			"updated":    false,
		}, nil
	}

	installCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := h.deps.RunCmd(installCtx, "", npm, binpath.EnvForBin(npm), "install", "-g", h.deps.AgentPackage+"@latest"); err != nil {
		return map[string]interface{}{
			"message":    fmt.Sprintf("update failed: %v", err),
			"oldVersion": oldVersion,
			"newVersion": oldVersion,
			"updated":    false,
		}, nil
	}

	newVersion := h.deps.AgentVersion()
	updated := newVersion != oldVersion
	msg := fmt.Sprintf("up to date (%s)", oldVersion)
	if updated {
		msg = fmt.Sprintf("updated: %s -> %s", oldVersion, newVersion)
		if err := h.deps.Store.Set(ctx, device.DocPath(h.deps.DeviceID), map[string]interface{}{
			"agentVersion": newVersion,
		}); err != nil {
			h.deps.Logger.WarnContext(ctx, "agent version write failed", "error", err)
		}
		if err := h.deps.Gateway.Restart(ctx); err != nil {
			h.deps.Logger.ErrorContext(ctx, "gateway restart failed", "error", err)
		}
	}
	return map[string]interface{}{
		"message":    msg,
		"oldVersion": oldVersion,
		"newVersion": newVersion,
		"updated":    updated,
	}, nil
}

func (h *handlers) restartGateway(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	if err := h.deps.Gateway.Restart(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"message": "gateway restarted"}, nil
}

// updateDaemon self-updates the daemon, preferring the registry package and
// falling back to a git checkout. On success the service manager restarts
// the process shortly after the terminal state is written.
func (h *handlers) updateDaemon(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	oldVersion := h.deps.DaemonVersion
	newVersion := oldVersion
	method := "unknown"
	var updateErrors []string

	if npm := h.deps.FindBin("npm"); npm != "" {
		env := binpath.EnvForBin(npm)
		rootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		npmRoot, err := h.deps.RunCmd(rootCtx, "", npm, env, "root", "-g")
		cancel()
		if err == nil {
			pkgFile := filepath.Join(strings.TrimSpace(npmRoot), h.deps.DaemonPackage, "package.json")
			if _, statErr := os.Stat(pkgFile); statErr == nil {
				installCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
				_, err = h.deps.RunCmd(installCtx, "", npm, env, "install", "-g", h.deps.DaemonPackage+"@latest")
				cancel()
				if err != nil {
					updateErrors = append(updateErrors, fmt.Sprintf("npm: %v", err))
				} else if v := packageVersion(pkgFile); v != "" {
					method = "npm"
					newVersion = v
				}
			}
		} else {
			updateErrors = append(updateErrors, fmt.Sprintf("npm: %v", err))
		}
	}

	if method == "unknown" && h.deps.DaemonSourceDir != "" {
		if _, err := os.Stat(filepath.Join(h.deps.DaemonSourceDir, ".git")); err == nil {
			pullCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, err := h.deps.RunCmd(pullCtx, h.deps.DaemonSourceDir, "git", nil, "pull")
			cancel()
			if err != nil {
				updateErrors = append(updateErrors, fmt.Sprintf("git: %v", err))
			} else {
				method = "git"
				if v := packageVersion(filepath.Join(h.deps.DaemonSourceDir, "package.json")); v != "" {
					newVersion = v
				}
			}
		}
	}

	if err := h.deps.Store.Set(ctx, device.DocPath(h.deps.DeviceID), map[string]interface{}{
		"daemonVersion": newVersion,
	}); err != nil {
		h.deps.Logger.WarnContext(ctx, "daemon version write failed", "error", err)
	}

	updated := newVersion != oldVersion
	if updated {
		// Delay the kickstart so the terminal state write below lands
		// before the process is torn down.
		restart := h.deps.RestartService
		logger := h.deps.Logger
		time.AfterFunc(time.Second, func() {
			if err := restart(); err != nil {
				logger.Error("service restart failed, manual restart needed", "error", err)
			}
		})
	}

	var msg string
	switch {
	case updated:
		msg = fmt.Sprintf("updated: %s -> %s (%s)", oldVersion, newVersion, method)
	case len(updateErrors) > 0:
		msg = fmt.Sprintf("update failed: %v", updateErrors)
	default:
		msg = fmt.Sprintf("up to date (%s)", oldVersion)
	}
	return map[string]interface{}{
		"message":    msg,
		"oldVersion": oldVersion,
		"newVersion": newVersion,
		"method":     method,
		"updated":    updated,
		"errors":     updateErrors,
	}, nil
}

// detectAgent re-checks the agent installation and publishes the result.
func (h *handlers) detectAgent(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	paths := h.deps.Local.Paths()
	hasAgent := paths.AgentInstalled()

	fields := map[string]interface{}{"hasAgent": hasAgent}
	if hasAgent {
		fields["agentPath"] = paths.AgentHome
	} else {
		fields["agentPath"] = nil
	}
	if err := h.deps.Store.Set(ctx, device.DocPath(h.deps.DeviceID), fields); err != nil {
		return nil, err
	}
	if hasAgent && h.deps.Push != nil {
		if err := h.deps.Push(ctx); err != nil {
			h.deps.Logger.WarnContext(ctx, "push after detection failed", "error", err)
		}
	}
	msg := "agent not installed"
	if hasAgent {
		msg = fmt.Sprintf("agent detected: %s", paths.AgentHome)
	}
	return map[string]interface{}{"message": msg, "hasAgent": hasAgent}, nil
}

// refreshInfo re-publishes device facts and uploads local .env entries the
// remote side does not have yet, encrypted per entry. Encryption failures
// skip the entry; the refresh itself still succeeds.
func (h *handlers) refreshInfo(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	paths := h.deps.Local.Paths()
	hasAgent := paths.AgentInstalled()

	fields := hostinfo.Collect().Map()
	fields["daemonVersion"] = h.deps.DaemonVersion
	fields["hasAgent"] = hasAgent
	if hasAgent {
		fields["agentPath"] = paths.AgentHome
	} else {
		fields["agentPath"] = nil
	}
	if v := h.deps.AgentVersion(); v != "" {
		fields["agentVersion"] = v
	}
	fields["cpus"] = runtime.NumCPU()
	fields["lastSeen"] = time.Now().UTC().Format(time.RFC3339)
	fields["status"] = string(device.StatusOnline)

	envSynced := 0
	if hasAgent && h.deps.Codec != nil {
		if secrets := h.uploadNewSecrets(ctx, &envSynced); secrets != nil {
			fields["deviceSecrets"] = secrets
		}
	}

	if err := h.deps.Store.Set(ctx, device.DocPath(h.deps.DeviceID), fields); err != nil {
		return nil, err
	}
	if h.deps.Push != nil {
		if err := h.deps.Push(ctx); err != nil {
			h.deps.Logger.WarnContext(ctx, "push after refresh failed", "error", err)
		}
	}

	msg := "device info refreshed"
	if envSynced > 0 {
		msg = fmt.Sprintf("device info refreshed (%d secrets synced)", envSynced)
	}
	return map[string]interface{}{"message": msg, "envSynced": envSynced}, nil
}

// uploadNewSecrets encrypts .env entries absent from the remote
// deviceSecrets map. Returns the merged map, or nil when nothing changed.
func (h *handlers) uploadNewSecrets(ctx context.Context, synced *int) map[string]interface{} {
	envVars := h.deps.Local.ReadEnvFile()
	if len(envVars) == 0 {
		return nil
	}

	existing := map[string]interface{}{}
	if doc, err := h.deps.Store.Get(ctx, device.DocPath(h.deps.DeviceID)); err == nil {
		if m, ok := doc.Data["deviceSecrets"].(map[string]interface{}); ok {
			existing = m
		}
	}

	merged := make(map[string]interface{}, len(existing)+len(envVars))
	for k, v := range existing {
		merged[k] = v
	}
	added := false
	for key, value := range envVars {
		if _, ok := existing[key]; ok || value == "" {
			continue
		}
		encData, err := h.deps.Codec.Encrypt(ctx, value)
		if err != nil {
			h.deps.Logger.WarnContext(ctx, "env encrypt failed", "key", key, "error", err)
			continue
		}
		merged[key] = map[string]interface{}{"encData": encData, "description": ""}
		added = true
		*synced++
	}
	if !added {
		return nil
	}
	return merged
}

// latestVersion queries the registry for a package's latest release,
// returning "" on any failure.
func (h *handlers) latestVersion(ctx context.Context, pkg string) string {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.deps.RegistryURL+"/"+pkg+"/latest", nil)
	if err != nil {
		return ""
	}
	resp, err := h.deps.HTTPClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Version
}

func runCmd(ctx context.Context, dir, bin string, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %v: %w", filepath.Base(bin), args, err)
	}
	return string(out), nil
}

// packageVersion reads the version field of a package manifest.
func packageVersion(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return ""
	}
	return pkg.Version
}
