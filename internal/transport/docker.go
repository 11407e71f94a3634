package transport

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/cstar/pkg/cluster"
)

// ErrFileNotFoundInArchive is returned by Get when the copied archive holds no regular file.
var ErrFileNotFoundInArchive = errors.New("file not found in archive")

// DockerExecutor treats each host as a container name and drives it through
// the Docker exec and copy APIs.
type DockerExecutor struct {
	cli    client.APIClient
	logger logrus.FieldLogger
}

// NewDockerExecutor wraps a Docker API client.
func NewDockerExecutor(cli client.APIClient, logger logrus.FieldLogger) *DockerExecutor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DockerExecutor{cli: cli, logger: logger.WithField("component", "transport")}
}

// Run executes cmd inside the host container and waits for it to exit.
func (d *DockerExecutor) Run(ctx context.Context, host string, cmd Command) (Result, error) {
	entry := d.logger.WithFields(logrus.Fields{"event_type": "remote_command", "host": host, "command": cmd.String()})
	if cmd.Quiet {
		entry.Debug("running quiet command")
	} else {
		entry.Info("running command")
	}

	execConfig := types.ExecConfig{
		Cmd:          cmd.Argv(),
		Env:          cmd.EnvList(),
		WorkingDir:   cmd.Dir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := d.cli.ContainerExecCreate(ctx, host, execConfig)
	if err != nil {
		return Result{}, &cluster.TransportError{Host: host, Op: "exec create", Err: err}
	}

	resp, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return Result{}, &cluster.TransportError{Host: host, Op: "exec attach", Err: err}
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return Result{}, &cluster.TransportError{Host: host, Op: "exec read", Err: err}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Result{}, &cluster.TransportError{Host: host, Op: "exec inspect", Err: err}
	}

	res := Result{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	if !cmd.Quiet && !res.Success() {
		entry.WithField("exit_code", res.ExitCode).Warn("command failed")
	}
	return res, nil
}

// Put writes data to remotePath. The parent directory must exist.
func (d *DockerExecutor) Put(ctx context.Context, host string, data []byte, remotePath string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    path.Base(remotePath),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar: %w", err)
	}

	d.logger.WithFields(logrus.Fields{"event_type": "remote_put", "host": host, "path": remotePath, "bytes": len(data)}).Debug("copying file to host")

	if err := d.cli.CopyToContainer(ctx, host, path.Dir(remotePath), &buf, types.CopyToContainerOptions{}); err != nil {
		return &cluster.TransportError{Host: host, Op: "put " + remotePath, Err: err}
	}
	return nil
}

// Get reads remotePath from the host.
func (d *DockerExecutor) Get(ctx context.Context, host string, remotePath string) ([]byte, error) {
	reader, _, err := d.cli.CopyFromContainer(ctx, host, remotePath)
	if err != nil {
		return nil, &cluster.TransportError{Host: host, Op: "get " + remotePath, Err: err}
	}
	defer func() { _ = reader.Close() }()

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFoundInArchive, remotePath)
		}
		if err != nil {
			return nil, &cluster.TransportError{Host: host, Op: "get " + remotePath, Err: err}
		}
		if header.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, &cluster.TransportError{Host: host, Op: "get " + remotePath, Err: err}
			}
			return data, nil
		}
	}
}
