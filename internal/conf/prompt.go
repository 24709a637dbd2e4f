package conf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// promptOptions walks through first-run setup on the terminal.
func promptOptions(in io.Reader, out io.Writer) (*Options, error) {
	p := &prompter{reader: bufio.NewReader(in), out: out}

	homeserver := p.prompt("Enter full homeserver URL", "https://matrix-client.matrix.org")
	userID := p.prompt("Enter full user ID (eg, @name:matrix.org)", "")
	password := p.prompt("Enter password", "")
	deviceName := p.prompt("Enter arbitrary name for device (eg, bot)", "")
	storePath := p.prompt("Enter session store path", "session/nekobot.db")
	allowedUsers := p.promptList("Enter full user ID of a user to allow them to run commands")
	safe := p.promptBool("Allow rating:safe?", boolPtr(true))
	questionable := p.promptBool("Allow rating:questionable?", nil)
	explicit := p.promptBool("Allow rating:explicit?", nil)

	if err := p.err; err != nil {
		return nil, err
	}

	return &Options{
		Homeserver:   homeserver,
		UserID:       userID,
		Password:     password,
		DeviceName:   deviceName,
		StorePath:    storePath,
		AllowedUsers: allowedUsers,
		DefaultRating: RatingConfig{
			Safe:         safe,
			Questionable: questionable,
			Explicit:     explicit,
		},
	}, nil
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
	err    error
}

func (p *prompter) readLine() string {
	if p.err != nil {
		return ""
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && line == "" {
		p.err = err
		return ""
	}
	return strings.TrimSpace(line)
}

func (p *prompter) prompt(message, defaultValue string) string {
	for p.err == nil {
		if defaultValue != "" {
			fmt.Fprintf(p.out, "%s: [%s] ", message, defaultValue)
		} else {
			fmt.Fprintf(p.out, "%s: ", message)
		}

		answer := p.readLine()
		if answer != "" {
			return answer
		}
		if defaultValue != "" {
			return defaultValue
		}
	}
	return ""
}

func (p *prompter) promptBool(message string, defaultValue *bool) bool {
	hint := "[y/n]"
	if defaultValue != nil {
		if *defaultValue {
			hint = "[Y/n]"
		} else {
			hint = "[y/N]"
		}
	}

	for p.err == nil {
		fmt.Fprintf(p.out, "%s %s ", message, hint)
		switch strings.ToLower(p.readLine()) {
		case "y":
			return true
		case "n":
			return false
		case "":
			if defaultValue != nil {
				return *defaultValue
			}
		}
	}
	return false
}

func (p *prompter) promptList(message string) []string {
	var answers []string
	for p.err == nil {
		fmt.Fprintf(p.out, "%s: (Empty to finish) ", message)
		answer := p.readLine()
		if answer == "" {
			break
		}
		answers = append(answers, answer)
	}
	return answers
}

func boolPtr(v bool) *bool {
	return &v
}
