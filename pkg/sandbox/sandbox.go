// Package sandbox runs candidate test files inside a locked-down container.
//
// One container is started per generation run and reused for every candidate
// execution, so interpreter startup and dependency imports are paid once. The
// project is mounted read-only; candidates and reports live on a tmpfs.
package sandbox

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"testforge/pkg/config"
	"testforge/pkg/extract"
	"testforge/pkg/logx"
	"testforge/pkg/report"
)

//go:embed bootstrap.py
var bootstrapScript string

const (
	dockerCommand = "docker"
	podmanCommand = "podman"

	containerPrefix = "testforge-run-"
	scratchDir      = "/tmp/testforge"
	bootstrapPath   = scratchDir + "/bootstrap.py"
	candidateStem   = scratchDir + "/candidate_tests"
	reportPath      = scratchDir + "/report.json"
)

// Runner executes candidate test files and reports the outcome.
type Runner interface {
	// Start provisions the container and verifies its runtime requirements.
	Start(ctx context.Context) error
	// CheckModule verifies the module under test is importable inside the
	// container, diagnosing the missing dependency when it is not.
	CheckModule(ctx context.Context, moduleName string) error
	// Run executes one candidate against a module and decodes its report.
	Run(ctx context.Context, candidate, moduleName string) (report.ExecutionReport, error)
	// Stop tears the container down. Safe to call more than once.
	Stop(ctx context.Context) error
}

// execFunc runs the container binary with args and returns captured output.
// Swapped out in tests.
type execFunc func(ctx context.Context, bin string, args ...string) (stdout, stderr string, err error)

func realExec(ctx context.Context, bin string, args ...string) (string, string, error) {
	var stdout, stderr strings.Builder
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// DockerRunner shells out to the docker (or podman) CLI. It holds a single
// long-lived container; calls are serialized.
type DockerRunner struct {
	logger     *logx.Logger
	cfg        config.SandboxConfig
	adapter    extract.Adapter
	projectDir string

	containerName string
	started       bool
	exec          execFunc
	mu            sync.Mutex
}

// NewDockerRunner prepares a runner for a project directory. The container is
// not created until Start.
func NewDockerRunner(cfg config.SandboxConfig, adapter extract.Adapter, projectDir string) *DockerRunner {
	binary := cfg.Runtime
	if binary == "" {
		binary = dockerCommand
		if _, err := exec.LookPath(dockerCommand); err != nil {
			if _, err := exec.LookPath(podmanCommand); err == nil {
				binary = podmanCommand
			}
		}
		cfg.Runtime = binary
	}

	return &DockerRunner{
		logger:        logx.NewLogger("sandbox"),
		cfg:           cfg,
		adapter:       adapter,
		projectDir:    projectDir,
		containerName: containerPrefix + uuid.NewString()[:8],
		exec:          realExec,
	}
}

// Available reports whether the container runtime responds.
func (d *DockerRunner) Available(ctx context.Context) bool {
	if _, err := exec.LookPath(d.cfg.Runtime); err != nil {
		d.logger.Debug("container runtime not found: %v", err)
		return false
	}
	if _, _, err := d.exec(ctx, d.cfg.Runtime, "ps", "-q"); err != nil {
		d.logger.Debug("container daemon not available: %v", err)
		return false
	}
	return true
}

// Start creates the container and checks the interpreter version and coverage
// support. The project is mounted read-only at the configured mount path.
func (d *DockerRunner) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	if _, stderr, err := d.exec(ctx, d.cfg.Runtime, "image", "inspect", d.cfg.Image); err != nil {
		d.logger.Debug("image inspect failed: %s", stderr)
		return &ImageNotFoundError{Image: d.cfg.Image}
	}

	// Clear any leftover container from a crashed previous run.
	if _, _, err := d.exec(ctx, d.cfg.Runtime, "rm", "-f", d.containerName); err != nil {
		d.logger.Debug("no stale container to remove: %v", err)
	}

	args := []string{
		"run", "-d", "--name", d.containerName,
		"--security-opt", "no-new-privileges",
		"--network", d.cfg.Network,
		"--cpus", d.cfg.CPUs,
		"--memory", d.cfg.Memory,
		"--pids-limit", strconv.FormatInt(d.cfg.PIDs, 10),
		"--tmpfs", fmt.Sprintf("/tmp:exec,nodev,nosuid,size=%s", d.cfg.TmpfsSize),
		"--volume", fmt.Sprintf("%s:%s:ro", d.projectDir, d.cfg.MountPath),
		"--workdir", d.cfg.MountPath,
		d.cfg.Image, "sleep", "infinity",
	}

	d.logger.Info("starting container %s with image %s", d.containerName, d.cfg.Image)
	stdout, stderr, err := d.exec(ctx, d.cfg.Runtime, args...)
	if err != nil {
		return &StartupError{Output: stdout + stderr, Err: err}
	}

	if _, stderr, err := d.execIn(ctx, "mkdir", "-p", scratchDir); err != nil {
		return &StartupError{Output: stderr, Err: err}
	}
	if err := d.copyIn(ctx, bootstrapPath, []byte(bootstrapScript)); err != nil {
		return &StartupError{Output: "copying bootstrap script", Err: err}
	}

	if err := d.checkRequirements(ctx); err != nil {
		return err
	}

	d.started = true
	return nil
}

func (d *DockerRunner) checkRequirements(ctx context.Context) error {
	stdout, stderr, err := d.execIn(ctx, d.adapter.VersionCommand()...)
	if err != nil {
		return &RequirementError{Requirement: d.adapter.Language(), Detail: stderr}
	}
	version := parseVersion(stdout + stderr)
	minimum := d.adapter.MinRuntimeVersion()
	if version == "" || !versionAtLeast(version, minimum) {
		return &RequirementError{
			Requirement: fmt.Sprintf("%s>=%s", d.adapter.Language(), minimum),
			Detail:      fmt.Sprintf("image reports %q", strings.TrimSpace(stdout+stderr)),
		}
	}

	if _, stderr, err := d.execIn(ctx, d.adapter.CoverageCheckCommand()...); err != nil {
		return &RequirementError{Requirement: "coverage", Detail: stderr}
	}
	return nil
}

var missingModulePattern = regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`)

// CheckModule probes the import of the module under test. Failures are
// diagnosed down to the first missing dependency so the caller can report
// which package the image lacks.
func (d *DockerRunner) CheckModule(ctx context.Context, moduleName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return fmt.Errorf("sandbox not started")
	}
	_, stderr, err := d.execIn(ctx, d.adapter.ImportProbeCommand(moduleName)...)
	if err == nil {
		return nil
	}
	missing := moduleName
	if m := missingModulePattern.FindStringSubmatch(stderr); m != nil {
		missing = m[1]
	}
	return &ModuleNotFoundError{Module: moduleName, Missing: missing, Detail: stderr}
}

// Run copies a candidate into the container, executes it against moduleName
// and decodes the JSON report. A candidate that fails to compile or fails its
// tests is a successful Run; only harness breakage is an error.
func (d *DockerRunner) Run(ctx context.Context, candidate, moduleName string) (report.ExecutionReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return report.ExecutionReport{}, fmt.Errorf("sandbox not started")
	}

	runCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	testPath := candidateStem + d.adapter.FileSuffix()
	if err := d.copyIn(runCtx, testPath, []byte(candidate)); err != nil {
		return report.ExecutionReport{}, &InfrastructureError{Stage: "candidate upload", Err: err}
	}

	stdout, stderr, err := d.execIn(runCtx,
		"python3", bootstrapPath, moduleName, testPath, reportPath, d.cfg.MountPath)
	if err != nil {
		return report.ExecutionReport{}, &InfrastructureError{Stage: "test run", Output: stdout + stderr, Err: err}
	}

	raw, stderr, err := d.execIn(runCtx, "cat", reportPath)
	if err != nil {
		return report.ExecutionReport{}, &InfrastructureError{Stage: "report retrieval", Output: stderr, Err: err}
	}
	rep, err := report.Decode([]byte(raw))
	if err != nil {
		return report.ExecutionReport{}, &InfrastructureError{Stage: "report decode", Output: raw, Err: err}
	}
	return *rep, nil
}

// Stop removes the container. Calling Stop on a stopped runner is a no-op.
func (d *DockerRunner) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	if _, _, err := d.exec(ctx, d.cfg.Runtime, "stop", d.containerName); err != nil {
		d.logger.Warn("failed to stop container %s: %v", d.containerName, err)
	}
	if _, _, err := d.exec(ctx, d.cfg.Runtime, "rm", "-f", d.containerName); err != nil {
		d.logger.Warn("failed to remove container %s: %v", d.containerName, err)
	}
	d.started = false
	d.logger.Info("container %s stopped", d.containerName)
	return nil
}

// execIn runs a command inside the container.
func (d *DockerRunner) execIn(ctx context.Context, cmd ...string) (string, string, error) {
	args := append([]string{"exec", "-i", d.containerName}, cmd...)
	return d.exec(ctx, d.cfg.Runtime, args...)
}

// copyIn writes data to a path inside the container via a temp file and
// docker cp.
func (d *DockerRunner) copyIn(ctx context.Context, dstPath string, data []byte) error {
	tmp, err := os.CreateTemp("", "testforge-cp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if _, stderr, err := d.exec(ctx, d.cfg.Runtime, "cp", tmp.Name(), d.containerName+":"+dstPath); err != nil {
		return fmt.Errorf("container cp failed: %w\n%s", err, stderr)
	}
	return nil
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// parseVersion pulls the first dotted version out of interpreter output like
// "Python 3.11.4".
func parseVersion(output string) string {
	return versionPattern.FindString(output)
}

// versionAtLeast compares dotted numeric versions component-wise.
func versionAtLeast(version, minimum string) bool {
	vp := strings.Split(version, ".")
	mp := strings.Split(minimum, ".")
	for i := 0; i < len(mp); i++ {
		mv, err := strconv.Atoi(mp[i])
		if err != nil {
			return false
		}
		vv := 0
		if i < len(vp) {
			vv, _ = strconv.Atoi(vp[i])
		}
		if vv != mv {
			return vv > mv
		}
	}
	return true
}
