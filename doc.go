// Package tasklet implements a user-space lightweight-task thread manager:
// a population of cooperatively-scheduled tasklets multiplexed over a
// fixed pool of worker goroutines, with suspend/resume, timed state
// transitions, and recycling of terminated records.
//
// # Quick start
//
//	mgr := tasklet.NewPriorityManager(4, nil)
//	if err := mgr.Run(4); err != nil {
//		log.Fatal(err)
//	}
//	defer mgr.Stop(true)
//
//	handle, _ := mgr.RegisterThread(func(ex tasklet.ExtendedState) tasklet.State {
//		return tasklet.StateTerminated
//	}, tasklet.StatePending, tasklet.PriorityNormal, true)
//
// # Key concepts
//
// A Tasklet is a function plus a packed atomic status (state, extended
// state, priority). Workers pull runnable tasklets from a SchedulingPolicy
// (FIFO or priority), invoke one slice of their function, and interpret
// the state the function yields: pending (re-enqueue), suspended (park
// off-queue), or terminated/depleted (move to the termination queue for
// later recycling by CleanupTerminated).
//
// External callers change a tasklet's state via Manager.SetState. A
// tasklet caught mid-invocation (state active) cannot be mutated safely
// in place; the change is deferred through a shim tasklet queued at boost
// priority, which retries once the subject yields.
//
// Manager.SetStateAt/SetStateAfter arm a timed transition, backed by a
// single background timer goroutine; cancellation is race-free via a
// triggered-flag handshake shared with an internal wake tasklet.
package tasklet
