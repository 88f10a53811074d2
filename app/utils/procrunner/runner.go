package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ytdl-worker/app/logger"
)

// ErrTimeout 进程超时或调用方取消，进程组已被终止
var ErrTimeout = errors.New("外部进程执行超时")

// DefaultGracePeriod SIGINT 之后等待进程退出的时间，超过则 SIGKILL
const DefaultGracePeriod = 3 * time.Second

// Result 进程正常退出后的结果，ExitCode 非零表示失败
type Result struct {
	Name     string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Success 退出码是否为 0
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Err 非零退出码转换为 *ExitError
func (r *Result) Err() error {
	if r.Success() {
		return nil
	}
	return &ExitError{Name: r.Name, Code: r.ExitCode, Stderr: strings.TrimSpace(string(r.Stderr))}
}

// ExitError 进程以非零退出码结束
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s 退出码 %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s 退出码 %d: %s", e.Name, e.Code, e.Stderr)
}

// Runner 运行外部命令
type Runner interface {
	// Run 超时或取消时返回 nil 与 ErrTimeout，启动失败返回 nil 与原始错误
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error)
}

// ExecRunner 基于 os/exec 的实现，子进程运行在独立进程组中
type ExecRunner struct {
	log         *logger.Logger
	gracePeriod time.Duration
}

func New(log *logger.Logger) *ExecRunner {
	return &ExecRunner{log: log.Named("procrunner"), gracePeriod: DefaultGracePeriod}
}

// WithGracePeriod 调整 SIGINT 到 SIGKILL 的等待时间
func (r *ExecRunner) WithGracePeriod(d time.Duration) *ExecRunner {
	r.gracePeriod = d
	return r
}

// Run timeout 为 0 时只受 ctx 约束
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// 子孙进程继承了输出管道时，Wait 最多再等一个宽限期
	cmd.WaitDelay = r.gracePeriod
	setProcessGroup(cmd)

	r.log.Debugf("执行命令: %s %s", name, strings.Join(args, " "))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 %s 失败: %w", name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-done:
		if errors.Is(err, exec.ErrWaitDelay) {
			// 进程已退出，但留下了占用管道的后台子进程
			r.log.Warnf("%s 已退出但仍有子进程未结束，终止进程组 pid=%d", name, cmd.Process.Pid)
			if kerr := killGroup(cmd); kerr != nil {
				r.log.Warnf("强制结束进程组失败: %v", kerr)
			}
			err = nil
		}
		return r.result(name, start, err, stdout.Bytes(), stderr.Bytes())
	case <-expired:
		r.log.Warnf("%s 执行超过 %s，终止进程组 pid=%d", name, timeout, cmd.Process.Pid)
		r.terminate(cmd, done)
		return nil, ErrTimeout
	case <-ctx.Done():
		r.log.Warnf("%s 被取消，终止进程组 pid=%d", name, cmd.Process.Pid)
		r.terminate(cmd, done)
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (r *ExecRunner) result(name string, start time.Time, waitErr error, stdout, stderr []byte) (*Result, error) {
	res := &Result{
		Name:     name,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("等待 %s 结束失败: %w", name, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	r.log.Debugf("%s 结束，退出码 %d，耗时 %s", name, res.ExitCode, res.Duration)
	return res, nil
}

// terminate 先中断整个进程组，宽限期后强杀。
// 组长先退出时组内可能还有后台子进程，所以无论如何都补发一次 SIGKILL
func (r *ExecRunner) terminate(cmd *exec.Cmd, done <-chan error) {
	if err := interruptGroup(cmd); err != nil {
		r.log.Warnf("发送中断信号失败: %v", err)
	}

	grace := time.NewTimer(r.gracePeriod)
	defer grace.Stop()

	exited := false
	select {
	case <-done:
		exited = true
	case <-grace.C:
	}

	if err := killGroup(cmd); err != nil {
		r.log.Warnf("强制结束进程组失败: %v", err)
	}
	if !exited {
		<-done
	}
}
