package hook

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/EmZod/pi-subagent-with-logging/log"
)

// maxLineSize bounds one hook event line. Tool inputs can carry whole file
// contents, so the budget is generous.
const maxLineSize = 8 * 1024 * 1024

// Handler consumes hook events. HandleEvent must not fail: recorder-internal
// problems are recorded in the audit trail, never surfaced to the host.
// HandleCommand returns the human-readable reply for an operator command.
type Handler interface {
	HandleEvent(Event)
	HandleCommand(command string) string
}

// Run reads NDJSON events from r until EOF, dispatching each to h in order.
// Command events are answered on w. Malformed lines are logged and skipped —
// a confused host must not kill the recorder. The only error Run returns is
// a broken input stream.
func Run(r io.Reader, w io.Writer, h Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		event, err := Parse(line)
		if err != nil {
			log.WarningLog.Printf("skipping malformed hook event: %v", err)
			continue
		}

		if event.Type == Command {
			reply := h.HandleCommand(event.Command)
			if _, err := fmt.Fprintln(w, reply); err != nil {
				log.ErrorLog.Printf("failed to write command reply: %v", err)
			}
			continue
		}

		h.HandleEvent(event)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read hook events: %w", err)
	}
	return nil
}
