// Package sandbox executes untrusted submission code inside locked-down
// Docker containers. Network access is always denied, the filesystem is
// limited to the mounted working directory and resource caps come from the
// assignment's execution config.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
)

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fitchfork",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Duration of sandboxed task runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	runTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitchfork",
		Subsystem: "sandbox",
		Name:      "run_timeouts_total",
		Help:      "Number of task runs that hit the timeout",
	}, []string{"image"})

	runFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitchfork",
		Subsystem: "sandbox",
		Name:      "run_failures_total",
		Help:      "Number of task runs that resulted in an error",
	}, []string{"image"})
)

// ErrNoImage is returned when a run request carries no container image.
var ErrNoImage = errors.New("sandbox: image is required")

// Runner executes one task command inside a sandbox.
type Runner interface {
	RunTask(ctx context.Context, req RunRequest) (RunResult, error)
}

// RunRequest describes a single task run: the command executes via the shell
// in WorkDir, which is bind-mounted into the container.
type RunRequest struct {
	Image   string
	Command string
	WorkDir string
	Env     []string
	Limits  execconfig.ExecutionLimits
}

// RunResult summarises the outcome of a sandboxed run.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Config groups runner configuration values.
type Config struct {
	Host         string
	DefaultImage string
	MountPath    string
	Logger       zerolog.Logger
}

// DockerRunner implements Runner on the Docker Engine API.
type DockerRunner struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerRunner constructs a Docker backed sandbox runner.
func NewDockerRunner(cfg Config) (*DockerRunner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.MountPath == "" {
		cfg.MountPath = "/code"
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &DockerRunner{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/COS301-SE-2025/fitchfork-go/pkg/sandbox"),
		logger: logger,
	}, nil
}

// RunTask executes the request command in a fresh container. Timeouts kill
// the container and are reported on the result, not as an error.
func (r *DockerRunner) RunTask(parent context.Context, req RunRequest) (RunResult, error) {
	image := req.Image
	if image == "" {
		image = r.cfg.DefaultImage
	}
	if image == "" {
		return RunResult{}, ErrNoImage
	}

	ctx, span := r.tracer.Start(parent, "sandbox.run_task", trace.WithAttributes(
		attribute.String("sandbox.image", image),
		attribute.String("sandbox.command", req.Command),
	))
	defer span.End()

	timeout := time.Duration(req.Limits.TimeoutSecs) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pids := int64(req.Limits.MaxProcesses)
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   int64(req.Limits.MaxMemory),
			NanoCPUs: int64(req.Limits.MaxCPUs) * 1e9,
		},
	}
	if pids > 0 {
		hostCfg.Resources.PidsLimit = &pids
	}

	if req.WorkDir != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: req.WorkDir,
			Target: r.cfg.MountPath,
		})
	}

	containerCfg := &container.Config{
		Image:           image,
		Cmd:             []string{"/bin/sh", "-c", req.Command},
		Env:             req.Env,
		WorkingDir:      r.cfg.MountPath,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	start := time.Now()
	result := RunResult{}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		runFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container create: %w", err)
	}

	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		runFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	result.Duration = time.Since(start)
	runDuration.WithLabelValues(image).Observe(result.Duration.Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = 137
			runTimeouts.WithLabelValues(image).Inc()
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
			}
			span.SetStatus(codes.Error, "run timed out")
		} else if !errors.Is(waitErr, context.Canceled) {
			runFailures.WithLabelValues(image).Inc()
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, waitErr.Error())
			return result, fmt.Errorf("container wait: %w", waitErr)
		}
	}

	logReader, err := r.client.ContainerLogs(parent, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
		return result, nil
	}
	defer logReader.Close()

	stdout, stderr, err := splitContainerLogs(logReader)
	if err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to read container logs")
		return result, nil
	}
	result.Stdout = stdout
	result.Stderr = stderr

	return result, nil
}

func splitContainerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close shuts down the runner's underlying client.
func (r *DockerRunner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
