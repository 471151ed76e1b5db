package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/lherron/couchmig/internal/events"
)

var spinner = []string{"-", "\\", "|", "/"}

// Console prints migration events. On a terminal the current operation is
// redrawn in place; otherwise every event gets its own line.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	label string
	frame int
	open  bool
}

// NewConsole returns a console writing to w. Terminal mode is enabled when
// w is a terminal.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, tty: IsTerminal(w)}
}

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Emit implements events.Sink
func (c *Console) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case events.OpStart:
		c.label = e.Payload
		c.frame = 0
		if c.tty {
			c.redraw("")
		} else {
			fmt.Fprintf(c.w, "%s...\n", c.label)
		}
	case events.OpProgress, events.OpCheckpoint:
		if c.tty {
			c.frame++
			c.redraw(e.Payload)
		} else {
			fmt.Fprintf(c.w, "%s: %s\n", c.label, e.Payload)
		}
	case events.OpError:
		c.clear()
		fmt.Fprintf(c.w, "  ! %s\n", e.Payload)
		if c.tty && c.label != "" {
			c.redraw("")
		}
	case events.OpEnd:
		mark := "ok"
		if strings.HasPrefix(e.Payload, "Error: ") {
			mark = "FAIL"
		}
		c.clear()
		fmt.Fprintf(c.w, "[%s] %s: %s\n", mark, c.label, e.Payload)
		c.label = ""
	}
}

func (c *Console) redraw(status string) {
	line := spinner[c.frame%len(spinner)] + " " + c.label
	if status != "" {
		line += " " + status
	}
	fmt.Fprintf(c.w, "\r\033[K%s", line)
	c.open = true
}

func (c *Console) clear() {
	if c.tty && c.open {
		fmt.Fprint(c.w, "\r\033[K")
		c.open = false
	}
}
