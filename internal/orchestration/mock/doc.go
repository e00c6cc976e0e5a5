// Package mock provides a simulated editor for exercising the coordination
// layer without real screen automation.
//
// Automation implements window.UIAutomation and window.ReadinessProbe over a
// set of in-memory editors, one per agent, sharing a single clipboard:
//
//	coords := window.StaticCoordinates{
//	    "agent-1": {"input": {X: 10, Y: 10}, "copy": {X: 10, Y: 20}, "probe": {X: 10, Y: 30}},
//	}
//	ui := mock.NewAutomation(coords)
//	ui.SetLatency(50 * time.Millisecond)
//
//	orch := window.New(bus, ui, coords)
//	watcher := window.NewReadinessWatcher(orch, ui, bus, window.WatcherConfig{})
//
// An injected prompt becomes a response after the configured latency. The
// response is produced by the Responder, which defaults to an echo that is
// unique per prompt so the clipboard always changes on copy.
//
// Behavior can be overridden per call with the function fields, in the same
// way tests script failures:
//
//	ui.InjectFunc = func(ctx context.Context, p window.Point, text string) error {
//	    return window.ErrClickFailed
//	}
package mock
