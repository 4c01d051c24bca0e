// Package robot defines the capability backend seam.
//
// A Robot executes automation actions (tap, swipe, screenshot, ...) against
// one attached device. The dispatch layer only ever talks to this interface;
// any device family — Android over adb, iOS simulators, pure simulation —
// plugs in behind it without touching the core.
//
// The action vocabulary is an explicit registry: unknown actions are
// rejected at validation time, before a command ever reaches a device queue.
package robot
