package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hupe1980/agentswarm/logging"
)

const maxLineSize = 16 << 20

// StdioOptions configures a StdioTransport.
type StdioOptions struct {
	Args   []string
	Env    []string // nil inherits the parent environment
	Dir    string
	Logger logging.Logger
	// KillTimeout bounds how long Close waits for the child to exit after
	// its input is closed before killing it.
	KillTimeout time.Duration
	// MaxLineSize bounds one protocol line. A longer line ends the connection.
	MaxLineSize int
}

// StdioTransport runs a tool server as a child process. The process is
// started once by Start and lives until Close.
type StdioTransport struct {
	command string
	opts    StdioOptions

	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	closeOnce sync.Once
	done      chan struct{}
}

// NewStdioTransport creates a transport for command.
func NewStdioTransport(command string, optFns ...func(o *StdioOptions)) *StdioTransport {
	opts := StdioOptions{
		Logger:      logging.NoOpLogger{},
		KillTimeout: 2 * time.Second,
		MaxLineSize: maxLineSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = maxLineSize
	}

	return &StdioTransport{
		command: command,
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Start launches the child process and the stdout reader.
func (t *StdioTransport) Start(_ context.Context, h Handler) error {
	cmd := exec.Command(t.command, t.opts.Args...)
	cmd.Dir = t.opts.Dir

	if t.opts.Env != nil {
		cmd.Env = t.opts.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin

	t.opts.Logger.Info("mcp.stdio.started", "command", t.command, "pid", cmd.Process.Pid)

	var stderrDone sync.WaitGroup

	stderrDone.Add(1)

	go func() {
		defer stderrDone.Done()
		t.forwardStderr(stderr)
	}()

	go func() {
		readErr := t.readLoop(stdout, h)
		if readErr != nil {
			// The child is still alive and may block writing stdout, so
			// fail the callers and stop it before waiting for it.
			t.opts.Logger.Warn("mcp.stdio.read_failed", "command", t.command, "error", readErr.Error())
			h.HandleClose(readErr)
			_ = cmd.Process.Kill()
		}

		stderrDone.Wait()

		waitErr := cmd.Wait()
		if readErr == nil {
			readErr = waitErr
		}

		t.opts.Logger.Debug("mcp.stdio.exited", "command", t.command, "error", errString(readErr))
		h.HandleClose(readErr)
		close(t.done)
	}()

	return nil
}

func (t *StdioTransport) readLoop(r io.Reader, h Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, t.opts.MaxLineSize)), t.opts.MaxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg := make([]byte, len(line))
		copy(msg, line)
		h.HandleMessage(msg)
	}

	return scanner.Err()
}

func (t *StdioTransport) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.opts.Logger.Debug("mcp.stdio.stderr", "command", t.command, "line", scanner.Text())
	}
}

// Send writes msg followed by a newline to the child's stdin.
func (t *StdioTransport) Send(_ context.Context, msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdin == nil {
		return ErrNotConnected
	}

	select {
	case <-t.done:
		return ErrConnectionLost
	default:
	}

	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')

	if _, err := t.stdin.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	return nil
}

// Close closes the child's stdin, then kills it if it does not exit within
// KillTimeout.
func (t *StdioTransport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		if t.cmd == nil {
			return
		}

		t.writeMu.Lock()
		_ = t.stdin.Close()
		t.writeMu.Unlock()

		select {
		case <-t.done:
			return
		case <-time.After(t.opts.KillTimeout):
		}

		if killErr := t.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
		}

		<-t.done
		t.opts.Logger.Info("mcp.stdio.killed", "command", t.command)
	})

	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
