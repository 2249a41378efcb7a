// Package docker implements the runtime.Runtime interface using the
// Docker API. Segmentation runs execute as containers on the host daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
)

const (
	runtimeName = "docker"

	inputMount   = "/input"
	outputMount  = "/output"
	licenseMount = "/license/license.txt"

	// diagnosticTail bounds the log excerpt captured for failure messages.
	diagnosticTail = "40"
)

// Runtime runs segmentation jobs as Docker containers.
type Runtime struct {
	client      *client.Client
	image       string
	licensePath string
}

// Config holds settings for the Docker runtime.
type Config struct {
	Image       string // segmentation image, e.g. freesurfer/freesurfer:7.4.1
	LicensePath string // host path of the license file, mounted read-only
}

// New creates a Docker runtime. The daemon is not contacted until Probe.
func New(cfg Config) (*Runtime, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{
		client:      dockerClient,
		image:       cfg.Image,
		licensePath: cfg.LicensePath,
	}, nil
}

func (r *Runtime) Name() string { return runtimeName }

// Probe checks that the daemon is reachable and responsive.
func (r *Runtime) Probe(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Start creates and starts the job container. The container name is
// derived from the job id, so a stale container left by a crashed run is
// removed before creating the new one.
func (r *Runtime) Start(ctx context.Context, spec runtime.Spec) (runtime.Execution, error) {
	name := spec.Name()

	// Pull with a detached context so a caller timeout cannot abort a
	// long image download halfway through.
	if err := r.pullImageIfNeeded(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("pull image: %w", err)
	}

	if err := r.removeStale(ctx, name); err != nil {
		return nil, err
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	inputBase := filepath.Base(spec.InputPath)
	containerConfig := &container.Config{
		Image: r.image,
		Cmd:   reconCommand(spec.Subject, inputMount+"/"+inputBase, outputMount),
		Env:   env,
		Labels: map[string]string{
			"job.id":     spec.JobID,
			"managed-by": "neuroinsight",
		},
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: spec.InputPath, Target: inputMount + "/" + inputBase, ReadOnly: true},
		{Type: mount.TypeBind, Source: spec.OutputDir, Target: outputMount},
	}
	if r.licensePath != "" {
		mounts = append(mounts, mount.Mount{
			Type: mount.TypeBind, Source: r.licensePath, Target: licenseMount, ReadOnly: true,
		})
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUs * 1e9),
			Memory:   spec.MemoryMB * 1024 * 1024,
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start container: %w", err)
	}

	return &execution{runtime: r, containerID: resp.ID, name: name}, nil
}

// Cancel force-removes the container behind the handle. Removing kills
// the full container process tree. A vanished container is a no-op.
func (r *Runtime) Cancel(ctx context.Context, handle string) error {
	_, ref, err := runtime.SplitHandle(handle)
	if err != nil {
		return err
	}
	err = r.client.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Alive reports whether the handle's container is still running.
func (r *Runtime) Alive(ctx context.Context, handle string) (bool, error) {
	_, ref, err := runtime.SplitHandle(handle)
	if err != nil {
		return false, err
	}
	inspect, err := r.client.ContainerInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State.Running, nil
}

// Close releases the Docker client. Running containers are not stopped.
func (r *Runtime) Close() error {
	return r.client.Close()
}

func (r *Runtime) pullImageIfNeeded(ctx context.Context) error {
	_, err := r.client.ImageInspect(ctx, r.image)
	if err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *Runtime) removeStale(ctx context.Context, name string) error {
	err := r.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove stale container: %w", err)
	}
	return nil
}

// reconCommand builds the segmentation command for container paths.
func reconCommand(subject, inputFile, subjectsDir string) []string {
	return []string{
		"recon-all",
		"-subjid", subject,
		"-i", inputFile,
		"-sd", subjectsDir,
		"-all",
	}
}

// execution is one in-flight job container.
type execution struct {
	runtime     *Runtime
	containerID string
	name        string
}

func (e *execution) Handle() string {
	return runtime.MakeHandle(runtimeName, e.name)
}

// Wait blocks until the container exits, then captures a bounded log tail
// and removes the container. A cancelled wait leaves the container alone;
// Cancel or the reaper deals with it.
func (e *execution) Wait(ctx context.Context) (*runtime.ExitResult, error) {
	statusCh, errCh := e.runtime.client.ContainerWait(ctx, e.containerID, container.WaitConditionNotRunning)

	var exitCode int
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("%s", status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	}

	diagnostic := e.logTail(ctx)

	if err := e.runtime.client.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("Failed to remove finished container", "container", e.name, "error", err)
	}

	return &runtime.ExitResult{ExitCode: exitCode, Diagnostic: diagnostic}, nil
}

// logTail reads the last lines of the container's output. The stream is
// multiplexed: each frame carries an 8-byte header with the payload size.
func (e *execution) logTail(ctx context.Context) string {
	logs, err := e.runtime.client.ContainerLogs(ctx, e.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       diagnosticTail,
	})
	if err != nil {
		return ""
	}
	defer logs.Close()

	var sb strings.Builder
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(logs, header); err != nil {
			break
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(logs, payload); err != nil {
			break
		}
		sb.Write(payload)
	}
	return sb.String()
}

var _ runtime.Runtime = (*Runtime)(nil)
