package host

import (
	"sync/atomic"
	"time"
)

type cmdResult struct {
	line string
	err  error
}

// pendingCommand is the single-slot record of an in-flight command. The
// resolved flag is the tie-breaker between the reader delivering a line and
// the sender's timeout expiring: whichever side wins the CAS decides the
// outcome, so a reply can never be both consumed as the result and delivered
// as broadcast data.
type pendingCommand struct {
	text     string
	issuedAt time.Time
	resolved atomic.Bool
	result   chan cmdResult
}

func newPendingCommand(text string) *pendingCommand {
	return &pendingCommand{
		text:     text,
		issuedAt: time.Now(),
		result:   make(chan cmdResult, 1),
	}
}

// resolve delivers line as the command's reply. It returns false if the
// command already timed out or failed; the caller then treats the line as
// broadcast data.
func (p *pendingCommand) resolve(line string) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.result <- cmdResult{line: line}
	return true
}

// fail completes the command with an error.
func (p *pendingCommand) fail(err error) bool {
	if !p.resolved.CompareAndSwap(false, true) {
		return false
	}
	p.result <- cmdResult{err: err}
	return true
}

// expire claims the timeout outcome. A false return means a reply or failure
// won the race just before the deadline and is waiting on the result channel.
func (p *pendingCommand) expire() bool {
	return p.resolved.CompareAndSwap(false, true)
}
