/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lightci/lightci/internal/executor"
)

const defaultDeployPath = "/home/ec2-user/app"

// releaseStandard implements the non-blue/green release sequence from
// spec.md §4.3. An ephemeral key file is removed when the deploy step
// itself fails; on success, later RunDeployed steps in the same run
// need it, so the Runner owns its cleanup at run end (Result.Target
// carries the resolved host/user/keyPath back for that purpose). A
// non-ephemeral key (found on disk rather than materialized by this
// package) is never removed, success or failure - it belongs to the
// operator, not to LightCI.
func (d *Deployer) releaseStandard(ctx context.Context, req Request, target RemoteTarget, keyEphemeral bool, details map[string]string) (result Result) {
	defer func() {
		if !result.Success && keyEphemeral {
			os.Remove(target.KeyPath)
		}
	}()

	cfg := req.Config
	deployPath := firstNonEmpty(cfg.DeployPath, defaultDeployPath)
	var logs []string

	run := func(step, command string) bool {
		res := d.remote.Run(ctx, command, target, "", nil)
		logs = append(logs, fmt.Sprintf("%s: %s", step, res.Output))
		return !res.Failed()
	}

	if !run("prepare", fmt.Sprintf("mkdir -p %s && rm -rf %s/*", deployPath, deployPath)) {
		return Result{Success: false, Message: "failed to prepare deploy path", Logs: logs, Details: details}
	}
	if !run("ensure-runtime", ensureRuntimeScript) {
		return Result{Success: false, Message: "failed to ensure runtime dependencies", Logs: logs, Details: details}
	}

	archivePath, err := buildArchive(req.ArtifactsPath)
	if err != nil {
		return Result{Success: false, Message: err.Error(), Logs: logs, Details: details}
	}
	defer os.Remove(archivePath)

	upload := d.remote.Upload(ctx, archivePath, target, deployPath+"/")
	logs = append(logs, fmt.Sprintf("upload: %s", upload.Output))
	if upload.Failed() {
		return Result{Success: false, Message: "failed to upload artifact archive", Logs: logs, Details: details}
	}

	if !run("extract", fmt.Sprintf("cd %s && tar xzf %s", deployPath, filepath.Base(archivePath))) {
		return Result{Success: false, Message: "failed to extract artifact archive", Logs: logs, Details: details}
	}

	installCmd := firstNonEmpty(cfg.InstallCmd, "npm install --production")
	if !run("install", fmt.Sprintf("cd %s && %s", deployPath, installCmd)) {
		return Result{Success: false, Message: "dependency install failed", Logs: logs, Details: details}
	}

	startCmd := fmt.Sprintf("cd %s && pm2 delete all || true && pm2 start npm --name lightci-app -- start && pm2 save", deployPath)
	if !run("start", startCmd) {
		return Result{Success: false, Message: "failed to start application", Logs: logs, Details: details}
	}

	if cfg.PostDeployCommand != "" {
		run("post-deploy", cfg.PostDeployCommand)
	}

	return Result{Success: true, Message: "deployed", Logs: logs, Details: details, Target: toExecutorTarget(target), KeyEphemeral: keyEphemeral}
}

const ensureRuntimeScript = `
if ! command -v node >/dev/null 2>&1; then
  (sudo yum install -y nodejs || sudo dnf install -y nodejs || sudo apt-get update && sudo apt-get install -y nodejs) >/dev/null 2>&1
fi
if ! command -v pm2 >/dev/null 2>&1; then
  sudo npm install -g pm2 >/dev/null 2>&1
fi
`

func buildArchive(artifactsPath string) (string, error) {
	archivePath := filepath.Join(os.TempDir(), fmt.Sprintf("lightci-deploy-%d.tar.gz", time.Now().UnixNano()))
	result := executor.Execute(context.Background(), fmt.Sprintf("tar czf %s -C %s .", archivePath, artifactsPath), "", nil, 0)
	if result.Failed() {
		return "", fmt.Errorf("deploy: build artifact archive: %s", result.Output)
	}
	return archivePath, nil
}

const (
	colorBlue  = "blue"
	colorGreen = "green"

	defaultHealthCheckPath           = "/"
	defaultHealthCheckTimeoutSeconds = 60
)

// healthCheckPollInterval is a var, not a const, so tests can shorten it.
var healthCheckPollInterval = 5 * time.Second

// releaseBlueGreen implements spec.md §4.3's blue/green cutover: deploy
// into the color not currently bound to ProductionPort, start it on
// StagingPort, poll its health check, then on success rewrite the NAT
// rule and stop the old color; on failure stop the target color and
// optionally fail with rollback.
func (d *Deployer) releaseBlueGreen(ctx context.Context, req Request, target RemoteTarget, keyEphemeral bool, details map[string]string) (result Result) {
	defer func() {
		if !result.Success && keyEphemeral {
			os.Remove(target.KeyPath)
		}
	}()

	cfg := req.Config
	deployPath := firstNonEmpty(cfg.DeployPath, defaultDeployPath)
	healthPath := firstNonEmpty(cfg.HealthCheckPath, defaultHealthCheckPath)
	timeout := time.Duration(cfg.HealthCheckTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeoutSeconds * time.Second
	}
	var logs []string

	run := func(step, command string) executor.Result {
		res := d.remote.Run(ctx, command, target, "", nil)
		logs = append(logs, fmt.Sprintf("%s: %s", step, res.Output))
		return res
	}

	current := currentColor(run("probe-color", fmt.Sprintf("sudo ss -ltnp | grep -q ':%d ' && echo %s || echo %s", cfg.ProductionPort, colorBlue, colorGreen)))
	targetColor := otherColor(current)
	details["activeColor"] = current
	details["targetColor"] = targetColor

	colorPath := fmt.Sprintf("%s/%s", deployPath, targetColor)
	supervisorName := fmt.Sprintf("lightci-app-%s", targetColor)

	if run("prepare", fmt.Sprintf("mkdir -p %s && rm -rf %s/*", colorPath, colorPath)).Failed() {
		return Result{Success: false, Message: "failed to prepare target color path", Logs: logs, Details: details}
	}
	if run("ensure-runtime", ensureRuntimeScript).Failed() {
		return Result{Success: false, Message: "failed to ensure runtime dependencies", Logs: logs, Details: details}
	}

	archivePath, err := buildArchive(req.ArtifactsPath)
	if err != nil {
		return Result{Success: false, Message: err.Error(), Logs: logs, Details: details}
	}
	defer os.Remove(archivePath)

	upload := d.remote.Upload(ctx, archivePath, target, colorPath+"/")
	logs = append(logs, fmt.Sprintf("upload: %s", upload.Output))
	if upload.Failed() {
		return Result{Success: false, Message: "failed to upload artifact archive", Logs: logs, Details: details}
	}

	if run("extract", fmt.Sprintf("cd %s && tar xzf %s", colorPath, filepath.Base(archivePath))).Failed() {
		return Result{Success: false, Message: "failed to extract artifact archive", Logs: logs, Details: details}
	}

	installCmd := firstNonEmpty(cfg.InstallCmd, "npm install --production")
	if run("install", fmt.Sprintf("cd %s && %s", colorPath, installCmd)).Failed() {
		return Result{Success: false, Message: "dependency install failed", Logs: logs, Details: details}
	}

	startCmd := fmt.Sprintf(
		"cd %s && PORT=%d pm2 delete %s || true && PORT=%d pm2 start npm --name %s -- start && pm2 save",
		colorPath, cfg.StagingPort, supervisorName, cfg.StagingPort, supervisorName,
	)
	if run("start", startCmd).Failed() {
		return Result{Success: false, Message: "failed to start target color", Logs: logs, Details: details}
	}

	if !d.pollHealth(ctx, target, cfg.StagingPort, healthPath, timeout) {
		run("stop-failed-color", fmt.Sprintf("pm2 delete %s || true", supervisorName))
		if cfg.RollbackOnFailure {
			return Result{Success: false, Message: "Health check failed, rolled back", Logs: logs, Details: details}
		}
		return Result{Success: false, Message: "health check failed", Logs: logs, Details: details}
	}

	cutoverCmd := fmt.Sprintf(
		"sudo iptables -t nat -R PREROUTING 1 -p tcp --dport %d -j REDIRECT --to-port %d 2>/dev/null || "+
			"(sudo iptables -t nat -D PREROUTING -p tcp --dport %d -j REDIRECT --to-port %d 2>/dev/null; "+
			"sudo iptables -t nat -I PREROUTING -p tcp --dport %d -j REDIRECT --to-port %d)",
		cfg.ProductionPort, cfg.StagingPort,
		cfg.ProductionPort, cfg.StagingPort,
		cfg.ProductionPort, cfg.StagingPort,
	)
	if run("cutover", cutoverCmd).Failed() {
		return Result{Success: false, Message: "failed to rewrite production routing rule", Logs: logs, Details: details}
	}

	run("stop-old-color", fmt.Sprintf("pm2 delete lightci-app-%s || true", current))

	if cfg.PostDeployCommand != "" {
		run("post-deploy", cfg.PostDeployCommand)
	}

	return Result{Success: true, Message: fmt.Sprintf("deployed to %s, cut over from %s", targetColor, current), Logs: logs, Details: details, Target: toExecutorTarget(target), KeyEphemeral: keyEphemeral}
}

func currentColor(probe executor.Result) string {
	if strings.Contains(probe.Output, colorBlue) {
		return colorBlue
	}
	return colorGreen
}

func otherColor(color string) string {
	if color == colorBlue {
		return colorGreen
	}
	return colorBlue
}

// pollHealth polls the staging health check endpoint at a fixed interval
// until it returns 2xx or timeout elapses.
func (d *Deployer) pollHealth(ctx context.Context, target RemoteTarget, port int, path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://localhost:%d%s", port, path)
	probeCmd := fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' %s", url)

	for time.Now().Before(deadline) {
		res := d.remote.Run(ctx, probeCmd, target, "", nil)
		if !res.Failed() && strings.HasPrefix(strings.TrimSpace(res.Output), "2") {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(healthCheckPollInterval):
		}
	}
	return false
}
