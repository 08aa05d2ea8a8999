package compiler

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/ipc"
	"github.com/vango-dev/devpack/internal/reporter"
)

// Worker is a running build worker for one platform.
type Worker interface {
	// Port is the worker's private HTTP port.
	Port() int

	// Events delivers build events. It is closed when the worker's event
	// stream ends.
	Events() <-chan *ipc.Event

	// Wait blocks until the worker has exited and returns its exit error.
	Wait() error

	// Stop terminates the worker and waits for it to exit.
	Stop()
}

// SpawnRequest describes the worker to start.
type SpawnRequest struct {
	Platform string
	Port     int
	Options  config.WorkerOptions
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Worker, error)
}

// ProcessSpawner runs each worker as a child process. The child writes ipc
// frames to stdout and JSON log lines to stderr.
type ProcessSpawner struct {
	// Command is the executable. Empty re-executes the current binary with
	// the "engine" subcommand.
	Command string

	// Args are passed to Command.
	Args []string

	// Dir is the working directory of the child.
	Dir string

	// Env holds extra KEY=value pairs.
	Env []string

	// Logs receives the child's log entries.
	Logs reporter.Sink

	// Logger reports frame errors.
	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *ProcessSpawner) Spawn(ctx context.Context, req SpawnRequest) (Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	command, args := s.Command, s.Args
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		command, args = exe, []string{"engine"}
	}

	workerEnv, err := req.Options.Environ()
	if err != nil {
		return nil, err
	}
	env := append(os.Environ(), s.Env...)
	env = append(env, workerEnv...)

	proc, err := startProcess(command, args, s.Dir, env)
	if err != nil {
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &processWorker{
		proc:   proc,
		port:   req.Port,
		events: make(chan *ipc.Event, 16),
		logger: logger.With("platform", req.Platform),
	}

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		w.readEvents(proc.stdout)
	}()
	go func() {
		defer streams.Done()
		readLogs(proc.stderr, "worker@"+req.Platform, s.Logs)
	}()
	go func() {
		streams.Wait()
		proc.wait()
	}()

	return w, nil
}

type processWorker struct {
	proc   *processHandle
	port   int
	events chan *ipc.Event
	logger *slog.Logger
}

func (w *processWorker) Port() int                 { return w.port }
func (w *processWorker) Events() <-chan *ipc.Event { return w.events }
func (w *processWorker) Stop()                     { stopProcess(w.proc) }

func (w *processWorker) Wait() error {
	<-w.proc.done
	return w.proc.err
}

func (w *processWorker) readEvents(r io.Reader) {
	defer close(w.events)
	dec := ipc.NewFrameDecoder(r)
	for {
		ev, err := dec.ReadEvent()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				w.logger.Error("worker event stream is corrupt, stopping worker", "err", err)
				// Drain so the child is never blocked on a full pipe.
				go io.Copy(io.Discard, r)
				go stopProcess(w.proc)
				return
			}
			w.logger.Warn("dropping worker event", "err", err)
			continue
		}
		w.events <- ev
	}
}

func readLogs(r io.Reader, issuer string, sink reporter.Sink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || sink == nil {
			continue
		}
		sink.Process(reporter.ParseLine(line, issuer))
	}
	io.Copy(io.Discard, r)
}

// freePort asks the kernel for an unused TCP port on the loopback interface.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
