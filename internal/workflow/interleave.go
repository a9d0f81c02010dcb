package workflow

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// interleaver serialises the output of concurrently running steps into one
// readable stream. The first step to produce output owns the live stream;
// output from other steps is buffered and flushed, behind its own header,
// once the owner finishes. A nil *interleaver discards everything.
type interleaver struct {
	mu   sync.Mutex
	emit func(string)

	// owner is the step currently writing straight through ("" = none).
	owner string
	// started records steps whose header has been emitted.
	started map[string]bool
	// buffers holds output of non-owner steps.
	buffers map[string]*strings.Builder
	steps   map[string]models.WorkflowStep
	// waiting lists running steps with buffered output, in first-write order.
	waiting []string
	// finished lists buffered steps that ended while another step owned the stream.
	finished []string
	// headers counts emitted headers so later ones get a separator.
	headers int
}

func newInterleaver(emit func(string)) *interleaver {
	return &interleaver{
		emit:    emit,
		started: make(map[string]bool),
		buffers: make(map[string]*strings.Builder),
		steps:   make(map[string]models.WorkflowStep),
	}
}

// write records text produced by step.
func (il *interleaver) write(step models.WorkflowStep, text string) {
	if il == nil || text == "" {
		return
	}
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.owner == "" {
		il.owner = step.ID
	}
	if il.owner == step.ID {
		il.headerLocked(step)
		il.emit(text)
		return
	}

	buf, ok := il.buffers[step.ID]
	if !ok {
		buf = &strings.Builder{}
		il.buffers[step.ID] = buf
		il.steps[step.ID] = step
		il.waiting = append(il.waiting, step.ID)
	}
	buf.WriteString(text)
}

// finish marks step as done and releases any output it or others were holding.
func (il *interleaver) finish(step models.WorkflowStep) {
	if il == nil {
		return
	}
	il.mu.Lock()
	defer il.mu.Unlock()

	if il.owner == step.ID {
		il.owner = ""
		for _, id := range il.finished {
			il.flushLocked(id)
		}
		il.finished = nil

		// Hand the stream to the earliest still-running step with output.
		if len(il.waiting) > 0 {
			next := il.waiting[0]
			il.waiting = il.waiting[1:]
			il.flushLocked(next)
			il.owner = next
		}
		return
	}

	if _, buffered := il.buffers[step.ID]; !buffered {
		return
	}
	il.waiting = remove(il.waiting, step.ID)
	if il.owner == "" {
		il.flushLocked(step.ID)
		return
	}
	il.finished = append(il.finished, step.ID)
}

// flushLocked emits the header and buffered output of id.
func (il *interleaver) flushLocked(id string) {
	buf, ok := il.buffers[id]
	if !ok {
		return
	}
	il.headerLocked(il.steps[id])
	il.emit(buf.String())
	delete(il.buffers, id)
	delete(il.steps, id)
}

func (il *interleaver) headerLocked(step models.WorkflowStep) {
	if il.started[step.ID] {
		return
	}
	il.started[step.ID] = true
	sep := ""
	if il.headers > 0 {
		sep = "\n\n"
	}
	il.headers++
	il.emit(fmt.Sprintf("%s### Step: %s (Worker: %s)\n\n", sep, step.ID, step.Worker))
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
