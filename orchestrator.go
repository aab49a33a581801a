package wipefreespace

// WipeOrchestrator sequences the phases of a single target device's wipe
// (spec §4.7): mount check, open, the selected phases in order, close.
// Grounded on cmd/distri/distri.go's funcmain (parse flags, dispatch to
// one verb, aggregate its error, run registered cleanups), generalized
// here from "one CLI verb" to "one device's wipe phases".
type WipeOrchestrator struct {
	Backend FsBackend
}

// NewWipeOrchestrator binds an orchestrator to backend.
func NewWipeOrchestrator(backend FsBackend) *WipeOrchestrator {
	return &WipeOrchestrator{Backend: backend}
}

// Run executes the full sequence against h, returning the worst status
// seen across phases (spec §4.7 step 3, §7 propagation policy: a
// non-Success phase result doesn't prevent later phases from running,
// except Signal, which short-circuits immediately). Once Open has
// succeeded, Close runs exactly once, whether Run returns normally or a
// phase signals cancellation partway through; after a failed mount check
// or Open, Close is not called.
func (o *WipeOrchestrator) Run(h *FsHandle, sink ProgressSink) Status {
	cleanup := newCleanupRegistry()
	defer cleanup.Run()

	if err := o.Backend.CheckMount(h.Device); err != nil {
		return statusOf(err, MountCheckFailed)
	}

	if err := o.Backend.Open(h); err != nil {
		return statusOf(err, OpenFs)
	}

	closed := false
	closeStatus := Status(Success)
	doClose := func() {
		if closed {
			return
		}
		closed = true
		if err := o.Backend.Close(h); err != nil {
			closeStatus = statusOf(err, CloseFs)
		}
	}
	cleanup.Register(doClose)

	worst := Success
	didAnything := false

	phases := []struct {
		enabled bool
		run     func() error
	}{
		{h.WipeFreeSpace, func() error { return o.Backend.WipeFreeSpace(h, sink) }},
		{h.WipeSlack, func() error { return o.Backend.WipeSlack(h, sink) }},
		{h.WipeUndelete, func() error { return o.Backend.WipeUndelete(h, sink) }},
	}

	for _, ph := range phases {
		if !ph.enabled {
			continue
		}
		didAnything = true
		if err := ph.run(); err != nil {
			worst = Worse(worst, statusOf(err, OpenFs))
			if worst == Signal {
				break
			}
		}
	}

	if !didAnything && worst == Success {
		worst = Nothing
	}

	doClose()
	if worst != Signal {
		worst = Worse(worst, closeStatus)
	}
	return worst
}

// statusOf extracts the Status from err if it is a *StatusError,
// otherwise falls back to def.
func statusOf(err error, def Status) Status {
	if se, ok := err.(*StatusError); ok {
		return se.Status
	}
	return def
}
