package shim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/MarcinKonowalczyk/bfvm/cli"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ss.(shutdown.Service)), nil
		},
	})
}

// The interpreter is started behind this script so that it sits stopped
// between Create and Start.
const startStoppedScript = `#!/bin/sh
kill -STOP $$
exec "$@"
`

const commandWaitDelay = 100 * time.Millisecond

// task is one interpreter process
type task struct {
	pid       int
	bundleDir string

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string
}

func (t *task) exited() bool {
	return t.done.Err() != nil
}

func (t *task) String() string {
	if t.exited() {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", t.pid)
}

type bfTaskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdown.Service
}

func newTaskService(sd shutdown.Service) *bfTaskService {
	return &bfTaskService{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}
}

var (
	_ = shim.TTRPCService(&bfTaskService{})
	_ = taskAPI.TaskService(&bfTaskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *bfTaskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

// get must be called with s.mu held
func (s *bfTaskService) get(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

func (s *bfTaskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// exitStatus turns the state of a finished process into a shell style
// status.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 255
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	return state.ExitCode()
}

// describeExit names the interpreter's own exit codes for the logs.
func describeExit(status int) string {
	switch status {
	case cli.ExitOK:
		return "program finished"
	case cli.ExitUnbalanced:
		return "program has unbalanced brackets"
	case cli.ExitOutOfBounds:
		return "program moved the pointer off the tape"
	case cli.ExitInterrupted:
		return "program interrupted"
	default:
		return "interpreter failed"
	}
}

// reap waits for the interpreter of task id, records how it ended and
// shuts the shim down once no task is left running.
func (s *bfTaskService) reap(ctx context.Context, id string, cmd *exec.Cmd, closeStdio func(), markDone context.CancelFunc) {
	logger := log.G(ctx).WithField("id", id)
	err := cmd.Wait()
	closeStdio()
	if err != nil {
		// ErrWaitDelay: stdin was still open when the program exited
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
			logger.WithError(err).Errorf("failed to wait for interpreter process %d", cmd.Process.Pid)
		}
	}
	status := exitStatus(cmd.ProcessState)
	logger.WithField("status", status).Debug(describeExit(status))

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		t.exitStatus = status
		t.exitTime = time.Now()
	} else {
		logger.Error("failed to write final status of done interpreter process: task was removed")
	}
	markDone()

	for _, t := range s.tasks {
		if !t.exited() {
			return
		}
	}
	logger.Debug("all tasks exited. shutting down the shim")
	s.shutdown.Shutdown()
}

// Create a new container
func (s *bfTaskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	bundle, err := ReadBundle(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	script := filepath.Join(r.Bundle, "start-stopped.sh")
	if err := os.WriteFile(script, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing start-stopped.sh: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	args := append([]string{script, self, InterpreterArg}, bundle.Args()...)
	// The interpreter outlives this request, so it must not be tied to ctx.
	cmd := exec.Command("/bin/sh", args...)
	cmd.WaitDelay = commandWaitDelay
	if len(bundle.Path) > 0 {
		cmd.Env = append(os.Environ(), "PATH="+strings.Join(bundle.Path, ":"))
	}

	closeStdio, err := connectStdio(ctx, cmd, r.Stdin, r.Stdout, r.Stderr)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		closeStdio()
		return nil, fmt.Errorf("running interpreter: %w", err)
	}
	pid := cmd.Process.Pid

	done, markDone := context.WithCancel(context.Background())
	s.tasks[r.ID] = &task{
		pid:       pid,
		bundleDir: r.Bundle,
		done:      done,
		stdin:     r.Stdin,
		stdout:    r.Stdout,
		stderr:    r.Stderr,
	}
	go s.reap(context.WithoutCancel(ctx), r.ID, cmd, closeStdio, markDone)

	if err := writePidFile(r.ID, pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// Start the primary user process inside the container
func (s *bfTaskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "kill", "-CONT", strconv.Itoa(t.pid))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("resuming interpreter: %w", err)
	}

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete a process or container
func (s *bfTaskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if !t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("interpreter process %d is not done yet", t.pid))
	}
	delete(s.tasks, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *bfTaskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *bfTaskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *bfTaskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_RUNNING
	if t.exited() {
		status = tasktypes.Status_STOPPED
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Bundle:     t.bundleDir,
		Pid:        uint32(t.pid),
		Status:     status,
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *bfTaskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *bfTaskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill signals the interpreter and waits for it to exit. SIGKILL is sent
// when the request carries no signal.
func (s *bfTaskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	logger := log.G(ctx).WithField("id", r.ID)
	logger.Debug("kill (service)")

	done, err := func() (context.Context, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		t, err := s.get(r.ID)
		if err != nil {
			return nil, err
		}
		if t.exited() || !alive(t.pid) {
			return t.done, nil
		}
		sig := syscall.SIGKILL
		if r.Signal != 0 {
			sig = syscall.Signal(r.Signal)
		}
		if err := syscall.Kill(t.pid, sig); err != nil {
			return nil, fmt.Errorf("sending %s to interpreter process: %w", sig, err)
		}
		return t.done, nil
	}()
	if err != nil {
		logger.WithError(err).Error("failed to kill interpreter process")
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}
	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *bfTaskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.PidsResponse{
		Processes: []*tasktypes.ProcessInfo{{Pid: uint32(t.pid)}},
	}, nil
}

// CloseIO of a process
func (s *bfTaskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *bfTaskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *bfTaskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *bfTaskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats are empty; an interpreter has nothing worth reporting
func (s *bfTaskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *bfTaskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *bfTaskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, fmt.Errorf("task was removed: %w", err)
	}
	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
