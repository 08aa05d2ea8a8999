package compiler

import "github.com/vango-dev/devpack/internal/ipc"

// Listener observes platform lifecycle. Callbacks run on the platform's event
// loop after the caches are updated and must not block.
type Listener interface {
	// OnWorkerStart is called after a worker process was spawned.
	OnWorkerStart(platform string, port int)

	// OnBuildStart is called when a compilation starts or is invalidated.
	OnBuildStart(platform string)

	// OnProgress reports compilation progress.
	OnProgress(platform string, progress ipc.Progress)

	// OnBuildDone is called after a completed build was cached and its
	// waiters were resolved.
	OnBuildDone(platform string, stats *ipc.Stats)

	// OnBuildError is called when the engine reports a failed build.
	OnBuildError(platform string, err error)

	// OnWorkerExit is called when a worker exits. err is nil for a
	// requested stop.
	OnWorkerExit(platform string, err error)
}

// ListenerFuncs implements Listener with optional callbacks.
type ListenerFuncs struct {
	WorkerStart func(platform string, port int)
	BuildStart  func(platform string)
	Progress    func(platform string, progress ipc.Progress)
	BuildDone   func(platform string, stats *ipc.Stats)
	BuildError  func(platform string, err error)
	WorkerExit  func(platform string, err error)
}

func (l ListenerFuncs) OnWorkerStart(platform string, port int) {
	if l.WorkerStart != nil {
		l.WorkerStart(platform, port)
	}
}

func (l ListenerFuncs) OnBuildStart(platform string) {
	if l.BuildStart != nil {
		l.BuildStart(platform)
	}
}

func (l ListenerFuncs) OnProgress(platform string, progress ipc.Progress) {
	if l.Progress != nil {
		l.Progress(platform, progress)
	}
}

func (l ListenerFuncs) OnBuildDone(platform string, stats *ipc.Stats) {
	if l.BuildDone != nil {
		l.BuildDone(platform, stats)
	}
}

func (l ListenerFuncs) OnBuildError(platform string, err error) {
	if l.BuildError != nil {
		l.BuildError(platform, err)
	}
}

func (l ListenerFuncs) OnWorkerExit(platform string, err error) {
	if l.WorkerExit != nil {
		l.WorkerExit(platform, err)
	}
}
