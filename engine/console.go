package engine

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/d1nch8g/intake/live"
	"github.com/d1nch8g/intake/transcript"
)

var (
	youTag = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39"))

	modelTag = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))

	summaryTag = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))
)

// Console is the interactive terminal: streaming transcript fragments, usage
// reports and the message prompt.
type Console struct {
	out      io.Writer
	mu       sync.Mutex
	streamed bool
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Fragment prints a partial transcription without a trailing newline.
func (c *Console) Fragment(speaker transcript.Speaker, text string) {
	tag := youTag
	if speaker == transcript.Model {
		tag = modelTag
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s", tag.Render("["+string(speaker)+"]"), text)
	c.streamed = true
}

// EndTurn terminates the line of streamed fragments, if any.
func (c *Console) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamed {
		fmt.Fprintln(c.out)
		c.streamed = false
	}
}

func (c *Console) Usage(u live.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\n%s\n\n", dimStyle.Render(fmt.Sprintf("[usage] prompt=%d output=%d total=%d", u.PromptTokens, u.ResponseTokens, u.TotalTokens)))
}

func (c *Console) Summary(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\n%s %s\n\n", summaryTag.Render("[summary]"), message)
}

func (c *Console) Prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "message > ")
}
