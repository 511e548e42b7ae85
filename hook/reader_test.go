package hook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events   []Event
	commands []string
}

func (h *recordingHandler) HandleEvent(e Event) {
	h.events = append(h.events, e)
}

func (h *recordingHandler) HandleCommand(command string) string {
	h.commands = append(h.commands, command)
	return "ok: " + command
}

func TestRun_DispatchesInOrder(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"session_start"}`,
		`{"type":"turn_start","turn":1}`,
		`{"type":"tool_call","tool":"bash","toolCallId":"c1"}`,
		`{"type":"tool_result","tool":"bash","toolCallId":"c1"}`,
		`{"type":"turn_end","turn":1,"toolResultCount":1}`,
		`{"type":"session_shutdown"}`,
	}, "\n")

	h := &recordingHandler{}
	require.NoError(t, Run(strings.NewReader(input), &bytes.Buffer{}, h))

	require.Len(t, h.events, 6)
	assert.Equal(t, SessionStart, h.events[0].Type)
	assert.Equal(t, TurnEnd, h.events[4].Type)
	assert.Equal(t, 1, h.events[4].ToolResultCount)
	assert.Equal(t, SessionShutdown, h.events[5].Type)
}

func TestRun_AnswersCommands(t *testing.T) {
	input := `{"type":"command","command":"status"}` + "\n"

	h := &recordingHandler{}
	var out bytes.Buffer
	require.NoError(t, Run(strings.NewReader(input), &out, h))

	assert.Equal(t, []string{"status"}, h.commands)
	assert.Equal(t, "ok: status\n", out.String())
	assert.Empty(t, h.events, "commands are not lifecycle events")
}

func TestRun_SkipsMalformedAndBlankLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"session_start"}`,
		``,
		`{broken`,
		`{"no_type":true}`,
		`{"type":"session_shutdown"}`,
	}, "\n")

	h := &recordingHandler{}
	require.NoError(t, Run(strings.NewReader(input), &bytes.Buffer{}, h))

	require.Len(t, h.events, 2)
	assert.Equal(t, SessionStart, h.events[0].Type)
	assert.Equal(t, SessionShutdown, h.events[1].Type)
}
