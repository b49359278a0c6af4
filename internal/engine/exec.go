package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/voice"
	"github.com/mattn/go-shellwords"
)

const waitDelay = 2 * time.Second

// CodeRecognizerExited is reported when the recognizer process fails without
// announcing the end of its capture. It classifies as an unknown fault.
const CodeRecognizerExited = "recognizer-exited"

// Exec drives an external recognizer process that streams NDJSON events on stdout.
type Exec struct {
	cmd []string
	log *slog.Logger

	mu  sync.Mutex
	h   voice.Handlers
	run *execRun
}

type execRun struct {
	capture uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// execEvent is one line of recognizer output.
type execEvent struct {
	Type        string          `json:"type"`
	ResultIndex int             `json:"result_index"`
	Results     []voice.Segment `json:"results"`
	Error       string          `json:"error"`
}

func NewExec(command string, log *slog.Logger) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &Exec{cmd: args, log: log}, nil
}

func (e *Exec) Supported() bool {
	_, err := exec.LookPath(e.cmd[0])
	if err != nil {
		e.log.Warn("recognizer command not found", slog.String("command", e.cmd[0]))
	}
	return err == nil
}

func (e *Exec) Bind(h voice.Handlers) {
	e.mu.Lock()
	e.h = h
	e.mu.Unlock()
}

func (e *Exec) Start(opts voice.CaptureOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil {
		return voice.Classify(voice.CodeAlreadyStarted)
	}

	args := append([]string{}, e.cmd[1:]...)
	if opts.Locale != "" {
		args = append(args, "--locale", opts.Locale)
	}
	if opts.Continuous {
		args = append(args, "--continuous")
	}
	if opts.Interim {
		args = append(args, "--interim")
	}

	ctx, cancel := context.WithCancel(context.Background())
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	command.WaitDelay = waitDelay
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("recognizer stdout: %w", err)
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Start(); err != nil {
		cancel()
		return fmt.Errorf("start recognizer: %w", err)
	}

	run := &execRun{capture: opts.Capture, cancel: cancel, done: make(chan struct{})}
	e.run = run
	go e.read(run, command, stdout, &stderr)
	return nil
}

func (e *Exec) read(run *execRun, command *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer) {
	defer close(run.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sawEnd := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev execEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			e.log.Warn("invalid recognizer output", slog.String("error", err.Error()))
			continue
		}
		if ev.Type == "end" {
			sawEnd = true
			break
		}
		if !e.dispatch(run, ev) {
			break
		}
	}
	// Drain so the process is not blocked writing to a closed pipe.
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := command.Wait()

	e.mu.Lock()
	live := e.run == run
	if live {
		e.run = nil
	}
	h := e.h
	e.mu.Unlock()
	run.cancel()
	if !live {
		return
	}

	if waitErr != nil && !sawEnd {
		e.log.Warn("recognizer exited", slog.String("error", waitErr.Error()), slog.String("stderr", stderr.String()))
		h.OnError(run.capture, CodeRecognizerExited)
	}
	h.OnEnd(run.capture)
}

func (e *Exec) dispatch(run *execRun, ev execEvent) bool {
	e.mu.Lock()
	live := e.run == run
	h := e.h
	e.mu.Unlock()
	if !live {
		return false
	}
	switch ev.Type {
	case "start":
		h.OnStart(run.capture)
	case "result":
		h.OnResult(run.capture, voice.ResultEvent{ResultIndex: ev.ResultIndex, Results: ev.Results})
	case "error":
		h.OnError(run.capture, ev.Error)
	default:
		e.log.Debug("unknown recognizer event", slog.String("type", ev.Type))
	}
	return true
}

func (e *Exec) Stop() error {
	e.mu.Lock()
	run := e.run
	e.run = nil
	h := e.h
	e.mu.Unlock()
	if run == nil {
		return voice.ErrEngineStopped
	}
	run.cancel()
	h.OnEnd(run.capture)
	return nil
}

// Close stops any running recognizer and waits for it to exit.
func (e *Exec) Close() error {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if err := e.Stop(); err != nil && !errors.Is(err, voice.ErrEngineStopped) {
		return err
	}
	if run != nil {
		<-run.done
	}
	return nil
}
