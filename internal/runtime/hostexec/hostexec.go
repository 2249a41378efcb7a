// Package hostexec implements the runtime.Runtime interface with host
// processes running Apptainer (or Singularity) images. It is the fallback
// environment on hosts without a Docker daemon.
package hostexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
)

const (
	runtimeName = "hostexec"

	inputMount  = "/input"
	outputMount = "/output"

	// diagnosticBytes bounds the log excerpt read back on failure.
	diagnosticBytes = 4096
)

// binaries in lookup order. Apptainer is the maintained name; older
// installs still ship the singularity binary.
var binaries = []string{"apptainer", "singularity"}

// Runtime runs segmentation jobs as host processes under Apptainer.
type Runtime struct {
	sifPath     string
	licensePath string

	mu     sync.Mutex
	binary string
}

// Config holds settings for the host-process runtime.
type Config struct {
	SIFPath     string // path to the segmentation .sif image
	LicensePath string // license file, bind-mounted read-only
}

// New creates a host-process runtime.
func New(cfg Config) *Runtime {
	return &Runtime{sifPath: cfg.SIFPath, licensePath: cfg.LicensePath}
}

func (r *Runtime) Name() string { return runtimeName }

// Probe checks that an Apptainer binary is on PATH and the image exists.
func (r *Runtime) Probe(ctx context.Context) error {
	if _, err := r.lookupBinary(); err != nil {
		return err
	}
	if r.sifPath == "" {
		return fmt.Errorf("no .sif image configured")
	}
	if _, err := os.Stat(r.sifPath); err != nil {
		return fmt.Errorf("image %s: %w", r.sifPath, err)
	}
	return nil
}

func (r *Runtime) lookupBinary() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-resolve every probe; PATH contents can change between calls.
	for _, name := range binaries {
		if path, err := exec.LookPath(name); err == nil {
			r.binary = path
			return path, nil
		}
	}
	return "", fmt.Errorf("neither apptainer nor singularity found on PATH")
}

// Start launches the segmentation as a process group leader, so the whole
// tree (apptainer plus everything recon-all forks) can be terminated with
// one signal to the group.
func (r *Runtime) Start(ctx context.Context, spec runtime.Spec) (runtime.Execution, error) {
	binary, err := r.lookupBinary()
	if err != nil {
		return nil, err
	}

	inputBase := filepath.Base(spec.InputPath)
	binds := []string{
		spec.InputPath + ":" + inputMount + "/" + inputBase + ":ro",
		spec.OutputDir + ":" + outputMount,
	}
	if r.licensePath != "" {
		binds = append(binds, r.licensePath+":/license/license.txt:ro")
	}

	args := []string{
		"exec",
		"--containall",
		"--bind", strings.Join(binds, ","),
		r.sifPath,
		"recon-all",
		"-subjid", spec.Subject,
		"-i", inputMount + "/" + inputBase,
		"-sd", outputMount,
		"-all",
	}

	logPath := filepath.Join(spec.OutputDir, spec.Name()+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create process log: %w", err)
	}

	cmd := exec.Command(binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = envList(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	return &execution{cmd: cmd, logFile: logFile, logPath: logPath, pid: cmd.Process.Pid}, nil
}

// Cancel kills the full process group behind the handle. An already-gone
// group is a no-op.
func (r *Runtime) Cancel(ctx context.Context, handle string) error {
	pid, err := handlePID(handle)
	if err != nil {
		return err
	}
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}

// Alive reports whether the handle's process still exists. Signal 0
// probes existence without delivering anything.
func (r *Runtime) Alive(ctx context.Context, handle string) (bool, error) {
	pid, err := handlePID(handle)
	if err != nil {
		return false, err
	}
	err = unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case err == unix.ESRCH:
		return false, nil
	case err == unix.EPERM:
		// Exists but owned by someone else; still alive.
		return true, nil
	default:
		return false, err
	}
}

func handlePID(handle string) (int, error) {
	_, ref, err := runtime.SplitHandle(handle)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("malformed process handle %q", handle)
	}
	return pid, nil
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	return list
}

// execution is one in-flight host process.
type execution struct {
	cmd     *exec.Cmd
	logFile *os.File
	logPath string
	pid     int
}

func (e *execution) Handle() string {
	return runtime.MakeHandle(runtimeName, strconv.Itoa(e.pid))
}

// Wait blocks until the process exits. A cancelled wait leaves the
// process running; Cancel or the reaper deals with it.
func (e *execution) Wait(ctx context.Context) (*runtime.ExitResult, error) {
	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		e.logFile.Close()
		exitCode := 0
		if err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				return nil, err
			}
			exitCode = exitErr.ExitCode()
		}
		return &runtime.ExitResult{ExitCode: exitCode, Diagnostic: e.diagnostic()}, nil
	}
}

// diagnostic reads the tail of the process log.
func (e *execution) diagnostic() string {
	f, err := os.Open(e.logPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - diagnosticBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}

var _ runtime.Runtime = (*Runtime)(nil)
