package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/metrics"
	"github.com/p-arndt/sessionbox/internal/provision"
)

// Exit codes reported when the interpreter produced no exit status of its own.
// Real statuses are 0-255 (128+signal when killed), so these never collide.
const (
	TimeoutExitCode       = -1
	LaunchFailureExitCode = -2
)

const (
	actionRun     = "run"
	actionInstall = "install"
)

var errTimedOut = errors.New("execution timed out")

type ExecutionResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

type InstallResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

type ExecutorOptions struct {
	RunTimeout     time.Duration
	InstallTimeout time.Duration
	// KillOnTimeout kills what a timed-out call started. Other calls in the
	// same session keep running.
	KillOnTimeout bool
}

// Executor runs the interpreter inside a session environment under a
// wall-clock timeout. Failures are reported in the result, never as errors.
type Executor struct {
	prov    provision.Provisioner
	opts    ExecutorOptions
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewExecutor(prov provision.Provisioner, opts ExecutorOptions, m *metrics.Metrics, log *zap.Logger) *Executor {
	return &Executor{prov: prov, opts: opts, metrics: m, log: log}
}

// Run executes entryName from the staging root.
func (e *Executor) Run(ctx context.Context, env *provision.Environment, entryName string) *ExecutionResult {
	out, err := e.exec(ctx, env, actionRun, []string{entryName}, e.opts.RunTimeout)
	switch {
	case errors.Is(err, errTimedOut):
		return &ExecutionResult{
			Stderr:   fmt.Sprintf("Error: Script execution timed out (%s)", seconds(e.opts.RunTimeout)),
			ExitCode: TimeoutExitCode,
		}
	case err != nil:
		return &ExecutionResult{
			Stderr:   "Error: " + err.Error(),
			ExitCode: LaunchFailureExitCode,
		}
	}
	return &ExecutionResult{
		Success:  out.ExitCode == 0,
		Stdout:   string(out.Stdout),
		Stderr:   string(out.Stderr),
		ExitCode: out.ExitCode,
	}
}

// Install runs "pip install pkg" with the session interpreter.
func (e *Executor) Install(ctx context.Context, env *provision.Environment, pkg string) *InstallResult {
	out, err := e.exec(ctx, env, actionInstall, []string{"-m", "pip", "install", pkg}, e.opts.InstallTimeout)
	switch {
	case errors.Is(err, errTimedOut):
		return &InstallResult{
			Stderr: fmt.Sprintf("Error: Package installation timed out (%s)", seconds(e.opts.InstallTimeout)),
		}
	case err != nil:
		return &InstallResult{Stderr: "Error: " + err.Error()}
	}
	return &InstallResult{
		Success: out.ExitCode == 0,
		Stdout:  string(out.Stdout),
		Stderr:  string(out.Stderr),
	}
}

// exec detaches from caller cancellation; the timeout is the only way a call
// ends early.
func (e *Executor) exec(ctx context.Context, env *provision.Environment, action string, args []string, timeout time.Duration) (*provision.Output, error) {
	execID := uuid.New().String()[:8]
	log := e.log.With(
		zap.String("session_id", env.SessionID),
		zap.String("exec_id", execID),
		zap.String("action", action))

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	out, err := e.prov.Exec(tctx, env, execID, args)
	elapsed := time.Since(start)

	if err != nil && tctx.Err() == context.DeadlineExceeded {
		log.Warn("execution timed out", zap.Duration("timeout", timeout))
		e.metrics.ObserveExecution(action, metrics.OutcomeTimeout, elapsed)
		if e.opts.KillOnTimeout {
			if ierr := e.prov.Interrupt(context.WithoutCancel(ctx), env, execID); ierr != nil {
				log.Warn("interrupt after timeout", zap.Error(ierr))
			}
		}
		return nil, errTimedOut
	}
	if err != nil {
		log.Error("execution failed to launch", zap.Error(err))
		e.metrics.ObserveExecution(action, metrics.OutcomeLaunch, elapsed)
		return nil, err
	}

	outcome := metrics.OutcomeSuccess
	if out.ExitCode != 0 {
		outcome = metrics.OutcomeFailure
	}
	e.metrics.ObserveExecution(action, outcome, elapsed)
	log.Debug("execution finished", zap.Int("exit_code", out.ExitCode), zap.Duration("elapsed", elapsed))
	return out, nil
}

// seconds renders d as "30 seconds".
func seconds(d time.Duration) string {
	n := int(d.Round(time.Second) / time.Second)
	if n == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", n)
}
