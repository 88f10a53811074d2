//go:build unix

package procrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytdl-worker/app/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunner() *ExecRunner {
	return New(logger.Nop()).WithGracePeriod(200 * time.Millisecond)
}

func TestRunSuccess(t *testing.T) {
	res, err := newRunner().Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success())
	assert.NoError(t, res.Err())
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := newRunner().Run(context.Background(), 5*time.Second, "sh", "-c", "echo bad 1>&2; exit 3")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)

	var exitErr *ExitError
	require.ErrorAs(t, res.Err(), &exitErr)
	assert.Equal(t, "bad", exitErr.Stderr)
}

func TestRunMissingBinary(t *testing.T) {
	res, err := newRunner().Run(context.Background(), time.Second, "definitely-not-a-real-binary-xyz")
	assert.Nil(t, res)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestRunTimeoutKillsGroup(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	// 子 shell 在后台睡眠后写文件，进程组被终止时子进程也应结束
	script := "(sleep 1; touch " + marker + ") & sleep 10"

	start := time.Now()
	res, err := newRunner().Run(context.Background(), 200*time.Millisecond, "sh", "-c", script)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "后台子进程应随进程组一起结束")
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := newRunner().Run(ctx, 0, "sleep", "10")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunTimeoutKillsGroupAfterLeaderExits(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	// 组长收到 SIGINT 后退出，后台子 shell 忽略 SIGINT，只能靠组内的 SIGKILL 结束
	script := "trap 'exit 0' INT; (trap '' INT; sleep 1; touch " + marker + ") & wait"

	start := time.Now()
	res, err := newRunner().Run(context.Background(), 200*time.Millisecond, "sh", "-c", script)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "组长退出后组内的后台进程也应被结束")
}

func TestRunLeftoverChildDoesNotBlock(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	script := "(sleep 1; touch " + marker + ") & echo done"

	start := time.Now()
	res, err := newRunner().Run(context.Background(), 5*time.Second, "sh", "-c", script)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success())
	assert.Equal(t, "done\n", string(res.Stdout))
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	time.Sleep(1500 * time.Millisecond)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "占用输出管道的后台进程应被结束")
}
