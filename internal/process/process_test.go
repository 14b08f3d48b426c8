//go:build !windows

package process

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnShell(t *testing.T, script string) *Process {
	t.Helper()
	p, err := Spawn(context.Background(), t.TempDir(), []string{"/bin/sh", "-c", script}, nil, hclog.NewNullLogger(), DefaultCapacity)
	require.NoError(t, err)
	return p
}

func TestSpawnCapturesStdout(t *testing.T) {
	p := spawnShell(t, "printf 'one\ntwo\n'")
	require.NoError(t, p.Wait())

	logs := p.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "one", logs[0].Text)
	assert.Equal(t, Stdout, logs[0].Channel)
	assert.Equal(t, "two", logs[1].Text)
	assert.True(t, p.Finished())
}

func TestSpawnCapturesStderr(t *testing.T) {
	p := spawnShell(t, "printf 'oops\n' 1>&2")
	require.NoError(t, p.Wait())

	logs := p.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "oops", logs[0].Text)
	assert.Equal(t, Stderr, logs[0].Channel)
}

func TestScriptIsProgramBasename(t *testing.T) {
	p := spawnShell(t, "true")
	require.NoError(t, p.Wait())
	assert.Equal(t, "sh", p.Script)
}

func TestClearSequenceEmptiesBuffer(t *testing.T) {
	p := spawnShell(t, "printf 'old\n\033cnew\n'")
	require.NoError(t, p.Wait())

	logs := p.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "new", logs[0].Text)
}

func TestWaitForSuccessReportsExitCode(t *testing.T) {
	p := spawnShell(t, "exit 3")
	err := p.WaitForSuccess()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.True(t, p.Finished())
}

func TestWaitIsIdempotent(t *testing.T) {
	p := spawnShell(t, "true")
	require.NoError(t, p.Wait())
	require.NoError(t, p.Wait())
}

func TestKillTerminatesProcessGroup(t *testing.T) {
	p := spawnShell(t, "sleep 30")
	require.NoError(t, p.Kill())

	done := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("killed process did not exit")
	}
}

func TestContextCancellationKillsChild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Spawn(ctx, t.TempDir(), []string{"/bin/sh", "-c", "sleep 30"}, nil, hclog.NewNullLogger(), DefaultCapacity)
	require.NoError(t, err)

	cancel()
	done := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled process did not exit")
	}
}

func TestRingBufferBoundHolds(t *testing.T) {
	p, err := Spawn(context.Background(), t.TempDir(),
		[]string{"/bin/sh", "-c", "i=0; while [ $i -lt 50 ]; do echo line$i; i=$((i+1)); done"},
		nil, hclog.NewNullLogger(), 16)
	require.NoError(t, err)
	require.NoError(t, p.Wait())

	logs := p.Logs()
	assert.Len(t, logs, 16)
	assert.Equal(t, "line49", logs[len(logs)-1].Text)
}
