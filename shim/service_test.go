package shim

import (
	"context"
	"os/exec"
	"testing"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/bfvm/cli"
	"github.com/MarcinKonowalczyk/bfvm/utils"
)

// startTask registers a shell process exiting with code as task id
func startTask(t *testing.T, s *bfTaskService, id string, code string) (*exec.Cmd, context.CancelFunc) {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit "+code)
	utils.AssertNoError(t, cmd.Start())
	done, markDone := context.WithCancel(context.Background())
	s.mu.Lock()
	s.tasks[id] = &task{pid: cmd.Process.Pid, bundleDir: "/bundle", done: done}
	s.mu.Unlock()
	return cmd, markDone
}

func TestService_UnknownTask(t *testing.T) {
	_, sd := shutdown.WithShutdown(context.Background())
	s := newTaskService(sd)
	_, err := s.State(context.Background(), &taskAPI.StateRequest{ID: "nope"})
	utils.Assert(t, errdefs.IsNotFound(err), "unknown task should be not found")
	_, err = s.Wait(context.Background(), &taskAPI.WaitRequest{ID: "nope"})
	utils.Assert(t, errdefs.IsNotFound(err), "unknown task should be not found")
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	_, sd := shutdown.WithShutdown(ctx)
	s := newTaskService(sd)

	cmd, markDone := startTask(t, s, "bf", "3")

	state, err := s.State(ctx, &taskAPI.StateRequest{ID: "bf"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, state.Bundle, "/bundle")

	pids, err := s.Pids(ctx, &taskAPI.PidsRequest{ID: "bf"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(pids.Processes), 1)
	utils.AssertEqual(t, pids.Processes[0].Pid, uint32(cmd.Process.Pid))

	s.reap(ctx, "bf", cmd, func() {}, markDone)

	wait, err := s.Wait(ctx, &taskAPI.WaitRequest{ID: "bf"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, wait.ExitStatus, uint32(cli.ExitOutOfBounds))

	state, err = s.State(ctx, &taskAPI.StateRequest{ID: "bf"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, state.Status, tasktypes.Status_STOPPED)

	select {
	case <-sd.Done():
	case <-time.After(time.Second):
		t.Error("shim was not shut down after its last task exited")
	}

	deleted, err := s.Delete(ctx, &taskAPI.DeleteRequest{ID: "bf"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, deleted.ExitStatus, uint32(3))
	_, err = s.State(ctx, &taskAPI.StateRequest{ID: "bf"})
	utils.Assert(t, errdefs.IsNotFound(err), "deleted task should be not found")
}

func TestService_DeleteRunning(t *testing.T) {
	ctx := context.Background()
	_, sd := shutdown.WithShutdown(ctx)
	s := newTaskService(sd)

	cmd, markDone := startTask(t, s, "bf", "0")
	defer s.reap(ctx, "bf", cmd, func() {}, markDone)

	_, err := s.Delete(ctx, &taskAPI.DeleteRequest{ID: "bf"})
	utils.Assert(t, errdefs.IsFailedPrecondition(err), "deleting a running task should fail")
}

func TestService_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	_, sd := shutdown.WithShutdown(ctx)
	s := newTaskService(sd)

	cmd, markDone := startTask(t, s, "bf", "0")
	defer s.reap(ctx, "bf", cmd, func() {}, markDone)

	_, err := s.Create(ctx, &taskAPI.CreateTaskRequest{ID: "bf"})
	utils.Assert(t, errdefs.IsAlreadyExists(err), "duplicate create should fail")
}

func TestService_NotImplemented(t *testing.T) {
	_, sd := shutdown.WithShutdown(context.Background())
	s := newTaskService(sd)
	_, err := s.Exec(context.Background(), &taskAPI.ExecProcessRequest{ID: "bf"})
	utils.Assert(t, errdefs.IsNotImplemented(err), "exec should not be implemented")
}

func TestDescribeExit(t *testing.T) {
	utils.AssertEqual(t, describeExit(cli.ExitUnbalanced), "program has unbalanced brackets")
	utils.AssertEqual(t, describeExit(42), "interpreter failed")
}
