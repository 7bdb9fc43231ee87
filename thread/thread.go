package thread

import (
	"runtime"
	"syscall"
	"unsafe"
)

// Realtime locks the calling goroutine to its own kernel thread and elevates that
// thread to the round-robin realtime scheduling policy at the given priority
// (1..99, around 10 is plenty for a sensor sampling loop). Sampling loops that
// poll a data-ready pin miss readings when the scheduler parks them behind bulk
// work; realtime priority keeps the jitter below the sensor's update period.
func Realtime(priority int) error {
	// First pin the goroutine to its own kernel thread.
	runtime.LockOSThread()
	// Get the ID of the thread.
	tid := syscall.Gettid()
	// Give this thread realtime priority.
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{priority})))
	if res == 0 {
		return nil
	}
	return err
}

const FIFO = 1 // fifo scheduling policy
const RR = 2   // round-robin scheduling policy

type schedParam struct {
	Priority int
}
