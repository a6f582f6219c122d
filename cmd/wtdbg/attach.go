package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func attachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Interactively send commands to a paused session, relaying keystrokes line by line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(args[0])
		},
	}
	return cmd
}

type commandResponse struct {
	Output string `json:"output"`
}

// runAttach puts the operator's terminal in raw mode so keystrokes are
// relayed immediately rather than line-buffered by the OS tty driver,
// matching the interactive attach style of the teacher's own CLI; it
// still assembles one line at a time before each send_command round
// trip, since the wire protocol this adapter speaks is line-oriented,
// not a raw PTY feed.
func runAttach(sessionID string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return attachPlain(sessionID)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("attach: enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	t := term.NewTerminal(os.Stdin, fmt.Sprintf("(wtdbg %s)> ", sessionID))
	for {
		line, err := t.ReadLine()
		if err != nil {
			return nil
		}
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		out, err := apiPostJSON("/v1/sessions/"+sessionID+"/command", map[string]string{
			"payload": line,
			"timeout": "10s",
		})
		if err != nil {
			fmt.Fprintf(t, "error: %v\r\n", err)
			continue
		}
		var resp commandResponse
		if err := json.Unmarshal(out, &resp); err != nil {
			fmt.Fprintf(t, "%s\r\n", string(out))
			continue
		}
		fmt.Fprint(t, resp.Output)
	}
}

// attachPlain is the non-tty fallback (piped stdin, CI, tests) — plain
// line scanning with no raw mode.
func attachPlain(sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out, err := apiPostJSON("/v1/sessions/"+sessionID+"/command", map[string]string{
			"payload": line,
			"timeout": "10s",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		var resp commandResponse
		if err := json.Unmarshal(out, &resp); err != nil {
			fmt.Println(string(out))
			continue
		}
		fmt.Print(resp.Output)
	}
	return scanner.Err()
}
