package transport

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/cstar/pkg/cluster"
)

// fakeDocker overrides the exec and copy calls DockerExecutor uses.
type fakeDocker struct {
	client.APIClient

	execConfig types.ExecConfig
	stdout     string
	stderr     string
	exitCode   int
	createErr  error

	copiedTo  string
	copiedTar []byte
	fromPath  string
	fromTar   []byte
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error) {
	f.execConfig = config
	if f.createErr != nil {
		return types.IDResponse{}, f.createErr
	}
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	conn, peer := net.Pipe()
	_ = peer.Close()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error) {
	return types.ContainerExecInspect{ExecID: execID, ExitCode: f.exitCode}, nil
}

func (f *fakeDocker) CopyToContainer(ctx context.Context, container, dstPath string, content io.Reader, options types.CopyToContainerOptions) error {
	f.copiedTo = dstPath
	data, err := io.ReadAll(content)
	f.copiedTar = data
	return err
}

func (f *fakeDocker) CopyFromContainer(ctx context.Context, container, srcPath string) (io.ReadCloser, types.ContainerPathStat, error) {
	f.fromPath = srcPath
	return io.NopCloser(bytes.NewReader(f.fromTar)), types.ContainerPathStat{}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCommand_Rendering(t *testing.T) {
	cmd := Cmd("pkill", "-f", "java.*org.apache.*.CassandraDaemon").WithEnv("JAVA_HOME", "/opt/java")

	assert.Equal(t, []string{"pkill", "-f", "java.*org.apache.*.CassandraDaemon"}, cmd.Argv())
	assert.Equal(t, []string{"JAVA_HOME=/opt/java"}, cmd.EnvList())
	assert.Equal(t, `JAVA_HOME=/opt/java pkill -f "java.*org.apache.*.CassandraDaemon"`, cmd.String())
	assert.False(t, cmd.Quiet)
	assert.True(t, QuietCmd("test", "-d", "/x").Quiet)
}

func TestCommand_WithEnvDoesNotShareMap(t *testing.T) {
	base := Cmd("true").WithEnv("A", "1")
	derived := base.WithEnv("B", "2")
	assert.Len(t, base.Env, 1)
	assert.Len(t, derived.Env, 2)
}

func TestDockerExecutor_Run(t *testing.T) {
	fake := &fakeDocker{stdout: "hello\n", stderr: "warn\n", exitCode: 3}
	exec := NewDockerExecutor(fake, quietLogger())

	cmd := Command{Program: "nodetool", Args: []string{"ring"}, Dir: "/opt", Env: map[string]string{"JAVA_HOME": "/j"}}
	res, err := exec.Run(context.Background(), "node0", cmd)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)
	assert.Equal(t, []string{"nodetool", "ring"}, []string(fake.execConfig.Cmd))
	assert.Equal(t, []string{"JAVA_HOME=/j"}, fake.execConfig.Env)
	assert.Equal(t, "/opt", fake.execConfig.WorkingDir)
}

func TestDockerExecutor_RunTransportFailure(t *testing.T) {
	fake := &fakeDocker{createErr: errors.New("no such container")}
	exec := NewDockerExecutor(fake, quietLogger())

	_, err := exec.Run(context.Background(), "node9", Cmd("true"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrTransport)

	var te *cluster.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "node9", te.Host)
}

func TestDockerExecutor_PutWritesSingleFileTar(t *testing.T) {
	fake := &fakeDocker{}
	exec := NewDockerExecutor(fake, quietLogger())

	require.NoError(t, exec.Put(context.Background(), "node0", []byte("cluster_name: x\n"), "/opt/cstar/cassandra/conf/cassandra.yaml"))
	assert.Equal(t, "/opt/cstar/cassandra/conf", fake.copiedTo)

	tr := tar.NewReader(bytes.NewReader(fake.copiedTar))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "cassandra.yaml", hdr.Name)
	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "cluster_name: x\n", string(body))
}

func TestDockerExecutor_Get(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "cassandra.yaml", Mode: 0o644, Size: 5, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("a: 1\n"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	fake := &fakeDocker{fromTar: buf.Bytes()}
	exec := NewDockerExecutor(fake, quietLogger())

	data, err := exec.Get(context.Background(), "node0", "/opt/cstar/cassandra/conf/cassandra.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))
	assert.Equal(t, "/opt/cstar/cassandra/conf/cassandra.yaml", fake.fromPath)
}

func TestDockerExecutor_GetEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tar.NewWriter(&buf).Close())

	exec := NewDockerExecutor(&fakeDocker{fromTar: buf.Bytes()}, quietLogger())
	_, err := exec.Get(context.Background(), "node0", "/missing")
	assert.ErrorIs(t, err, ErrFileNotFoundInArchive)
}

type scripted struct {
	res Result
	err error
}

func (s scripted) Run(context.Context, string, Command) (Result, error) { return s.res, s.err }
func (s scripted) Put(context.Context, string, []byte, string) error { return nil }
func (s scripted) Get(context.Context, string, string) ([]byte, error) { return nil, nil }

func TestCheck(t *testing.T) {
	ctx := context.Background()

	_, err := Check(ctx, scripted{res: Result{ExitCode: 1, Stderr: "boom"}}, "n1", Cmd("false"))
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "n1", ce.Host)
	assert.Contains(t, err.Error(), "boom")

	res, err := Check(ctx, scripted{res: Result{ExitCode: 1}}, "n1", QuietCmd("test", "-f", "/x"))
	require.NoError(t, err)
	assert.False(t, res.Success())

	ok, err := Exists(ctx, scripted{res: Result{}}, "n1", "-d", "/x")
	require.NoError(t, err)
	assert.True(t, ok)
}
