// Package cli is the interactive terminal channel behind "hive chat". It
// reads one message per line from its input, publishes each as an inbound
// message for the configured user, and prints replies to its output.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nextlevelbuilder/hive/internal/bus"
	"github.com/nextlevelbuilder/hive/internal/channels"
)

// Channel is the terminal adapter.
type Channel struct {
	*channels.BaseChannel
	userID string
	in     io.Reader
	out    io.Writer
	prompt io.Writer
	done   chan struct{}
}

// New creates the adapter. userID is the id every line is attributed to;
// replies print to out, REPL chrome (the prompt) to prompt.
func New(msgBus *bus.MessageBus, userID string, in io.Reader, out, prompt io.Writer) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("cli", msgBus, nil),
		userID:      userID,
		in:          in,
		out:         out,
		prompt:      prompt,
	}
}

// Start begins reading lines from the input.
func (c *Channel) Start(ctx context.Context) error {
	c.done = make(chan struct{})
	c.SetRunning(true)
	go c.readLoop(ctx)
	return nil
}

// Stop marks the channel stopped. A reader blocked on the terminal stays
// blocked until EOF; the chat command exits the process right after.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Done is closed when the input ends, either at EOF or on an exit command.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Send prints a reply to the output.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", msg.Content)
	return err
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(c.prompt, "You: ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		c.Publish(c.userID, "local", line)
	}
}
