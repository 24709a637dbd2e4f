package verification

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Decision is the human's verdict on the emoji comparison.
type Decision int

const (
	DecisionConfirm Decision = iota
	DecisionReject
	DecisionCancel
)

// Prompter blocks on the interactive emoji comparison.
type Prompter interface {
	Decide(emoji []string) (Decision, error)
}

// TerminalPrompter asks on the terminal and keeps asking until it gets one of
// y, n or cancel.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *TerminalPrompter) Decide(emoji []string) (Decision, error) {
	fmt.Fprintf(p.Out, "%s\n", strings.Join(emoji, "  "))
	reader := bufio.NewReader(p.In)

	for {
		fmt.Fprint(p.Out, "Do the emoji match? (y/n/cancel): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return DecisionCancel, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return DecisionConfirm, nil
		case "n":
			return DecisionReject, nil
		case "cancel":
			return DecisionCancel, nil
		}
	}
}
