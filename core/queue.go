package core

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

const (
	keyCmdTimeout Key = "queue-cmd-timeout"
	keyWriteRetry Key = "queue-write-retry"

	writeRetryDelay = time.Second
	maxTimeouts     = 5
	maxBlockedWrite = 10
)

// QueueConfig wires a Queue to its collaborators. All callbacks are
// invoked from the owning event loop (via Enqueue, ResponseDone, or a
// scheduler flush); none may block.
type QueueConfig struct {
	Log   *slog.Logger
	Sched *Scheduler

	// Write sends one command over the transport. Errors wrapping
	// ErrWouldBlock trigger a scheduled retry; any other error marks the
	// transport lost.
	Write func(cmd string) error

	// TimeoutFor returns the response deadline for a command. Commands
	// are held verbatim, so the timeout is derived from the command text.
	TimeoutFor func(cmd string) time.Duration

	// OnTimeout is called when the in-flight command's deadline passes,
	// before the command is dropped. Used to publish a diagnostic.
	OnTimeout func(cmd string)

	// OnLost is called once when the transport is considered dead:
	// timeout budget exhausted, blocked-write budget exhausted, or a
	// hard write failure.
	OnLost func(err error)

	// OnWrite, if set, is called after every successful write. Bridges
	// use it to re-arm their keepalive timer.
	OnWrite func(cmd string)
}

// Queue is the FIFO of outstanding commands. At most one command is in
// flight: the head has been written to the transport and is awaiting its
// response; the rest are held pending. Commands are stored verbatim so
// response handlers can reconstruct correlation data (ids, property
// names) from the head string alone.
type Queue struct {
	cfg QueueConfig

	pending []string

	consecTimeouts int
	consecBlocked  int
	lost           bool
}

// NewQueue returns an empty command queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Queue{cfg: cfg}
}

// Enqueue appends cmd. If the queue was empty the command is written to
// the transport immediately; otherwise it is held until the commands
// ahead of it complete.
func (q *Queue) Enqueue(cmd string) {
	if q.lost {
		return
	}
	q.pending = append(q.pending, cmd)
	if len(q.pending) == 1 {
		q.writeHead()
	}
}

// EnqueueUnique appends cmd only when its verbatim text is not already
// queued. Pollers use this to avoid piling up duplicate refreshes.
// It reports whether the command was enqueued.
func (q *Queue) EnqueueUnique(cmd string) bool {
	if q.Contains(cmd) {
		return false
	}
	q.Enqueue(cmd)
	return true
}

// Contains reports whether cmd sits in the queue verbatim.
func (q *Queue) Contains(cmd string) bool {
	for _, p := range q.pending {
		if p == cmd {
			return true
		}
	}
	return false
}

// ContainsPrefix reports whether any queued command starts with one of
// the given prefixes.
func (q *Queue) ContainsPrefix(prefixes ...string) bool {
	for _, p := range q.pending {
		for _, pfx := range prefixes {
			if strings.HasPrefix(p, pfx) {
				return true
			}
		}
	}
	return false
}

// Head returns the in-flight command.
func (q *Queue) Head() (string, bool) {
	if len(q.pending) == 0 {
		return "", false
	}
	return q.pending[0], true
}

// Len returns the number of queued commands, the in-flight one included.
func (q *Queue) Len() int {
	return len(q.pending)
}

// ResponseDone completes the in-flight command: its timeout is disarmed,
// the consecutive-timeout counter resets, and the next pending command
// (if any) is written.
func (q *Queue) ResponseDone() {
	if len(q.pending) == 0 {
		return
	}
	q.cfg.Sched.RemoveTimeout(keyCmdTimeout)
	q.consecTimeouts = 0
	q.pending = q.pending[1:]
	q.writeHead()
}

// TouchTimeout re-arms the in-flight command's deadline without moving
// the queue. Non-terminating records (RING and friends) postpone the
// timeout this way.
func (q *Queue) TouchTimeout() {
	if len(q.pending) == 0 {
		return
	}
	q.cfg.Sched.AddTimeout(keyCmdTimeout, q.cfg.TimeoutFor(q.pending[0]), q.timeoutFired)
}

func (q *Queue) writeHead() {
	if q.lost || len(q.pending) == 0 {
		return
	}
	cmd := q.pending[0]
	err := q.cfg.Write(cmd)
	switch {
	case err == nil:
		q.consecBlocked = 0
		q.cfg.Sched.AddTimeout(keyCmdTimeout, q.cfg.TimeoutFor(cmd), q.timeoutFired)
		if q.cfg.OnWrite != nil {
			q.cfg.OnWrite(cmd)
		}
	case errors.Is(err, ErrWouldBlock):
		q.consecBlocked++
		if q.consecBlocked >= maxBlockedWrite {
			q.markLost(ErrWriteBlocked)
			return
		}
		q.cfg.Log.Warn("write would block, retrying", "cmd", cmd, "attempt", q.consecBlocked)
		q.cfg.Sched.AddTimeout(keyWriteRetry, writeRetryDelay, q.writeHead)
	default:
		q.cfg.Log.Error("write failed", "cmd", cmd, "error", err)
		q.markLost(err)
	}
}

func (q *Queue) timeoutFired() {
	if len(q.pending) == 0 {
		return
	}
	cmd := q.pending[0]
	q.cfg.Log.Warn("command timeout", "cmd", cmd)
	if q.cfg.OnTimeout != nil {
		q.cfg.OnTimeout(cmd)
	}
	q.pending = q.pending[1:]
	q.consecTimeouts++
	if q.consecTimeouts >= maxTimeouts {
		q.markLost(ErrTimeoutBudgetExhausted)
		return
	}
	q.writeHead()
}

func (q *Queue) markLost(err error) {
	if q.lost {
		return
	}
	q.lost = true
	q.pending = nil
	q.cfg.Sched.RemoveTimeout(keyCmdTimeout)
	q.cfg.Sched.RemoveTimeout(keyWriteRetry)
	if q.cfg.OnLost != nil {
		q.cfg.OnLost(err)
	}
}
