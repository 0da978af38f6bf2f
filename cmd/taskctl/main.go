// taskctl is a thin client for the taskd line protocol: it sends one
// command, prints the response, and for subscribe keeps tailing events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/mzani/taskd/internal/protocol"
)

type options struct {
	socketPath string
	tcpAddr    string

	session  string
	name     string
	duration int64
	taskID   string
	text     string
	model    string
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	var opts options
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	fs.StringVar(&opts.socketPath, "socket", "/tmp/taskd.sock", "path of the taskd unix socket")
	fs.StringVar(&opts.tcpAddr, "tcp", "", "taskd tcp address (overrides -socket)")
	fs.StringVar(&opts.session, "session", "", "session name")
	fs.StringVar(&opts.name, "name", "", "task name (run)")
	fs.Int64Var(&opts.duration, "duration", 0, "task duration in ms (run)")
	fs.StringVar(&opts.taskID, "task", "", "task id (status/stop)")
	fs.StringVar(&opts.text, "text", "", "chat text (chat)")
	fs.StringVar(&opts.model, "model", "", "chat model (chat)")
	_ = fs.Parse(os.Args[2:])

	cmd, err := buildCommand(command, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskctl: %v\n", err)
		os.Exit(2)
	}

	if err := run(cmd, opts); err != nil {
		fmt.Fprintf(os.Stderr, "taskctl: %v\n", err)
		os.Exit(1)
	}
}

func buildCommand(command string, opts options) (protocol.Command, error) {
	cmd := protocol.Command{
		ID:         uuid.NewString(),
		Session:    opts.session,
		Name:       opts.name,
		DurationMs: opts.duration,
		TaskID:     opts.taskID,
		Text:       opts.text,
		Model:      opts.model,
	}

	switch command {
	case "ping":
		cmd.Action = protocol.ActionPing
	case "run":
		cmd.Action = protocol.ActionRun
	case "status":
		cmd.Action = protocol.ActionStatus
	case "stop":
		cmd.Action = protocol.ActionStop
	case "sessions":
		cmd.Action = protocol.ActionSessionList
	case "chat":
		cmd.Action = protocol.ActionChat
	case "subscribe":
		cmd.Action = protocol.ActionSubscribe
	default:
		usage()
		return protocol.Command{}, fmt.Errorf("unknown command %q", command)
	}

	if err := cmd.Validate(); err != nil {
		return protocol.Command{}, err
	}
	return cmd, nil
}

func run(cmd protocol.Command, opts options) error {
	conn, err := dial(opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)

	if err := enc.Encode(cmd); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	var resp protocol.Response
	if err := dec.Decode(&resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	printJSON(resp)
	if !resp.Success {
		return fmt.Errorf("command failed: %s", resp.Error)
	}

	if cmd.Action != protocol.ActionSubscribe {
		return nil
	}

	// Tail the event stream until the daemon goes away or we are killed.
	for {
		var evt protocol.Event
		if err := dec.Decode(&evt); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		printJSON(evt)
	}
}

func dial(opts options) (net.Conn, error) {
	if opts.tcpAddr != "" {
		return net.Dial("tcp", opts.tcpAddr)
	}
	return net.Dial("unix", opts.socketPath)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: taskctl <command> [flags]

commands:
  ping                         check daemon liveness
  run       -session -name     enqueue a task (-duration ms optional)
  status    -session [-task]   show one task or all tasks of a session
  stop      -session [-task]   cancel one task or all non-terminal tasks
  sessions                     list sessions
  chat      -session -text     start a chat exchange (-model optional)
  subscribe                    tail the live event stream

flags common to all commands: -socket, -tcp
`)
}
