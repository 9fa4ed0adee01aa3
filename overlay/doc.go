// Package overlay implements the panel visibility controller for the
// ambassador extension overlay.
//
// The controller owns a single piece of state: which panel (welcome,
// ambassador card, settings) is currently shown on stream. Chat commands
// open a panel and arm an auto-dismiss timer; user interaction inside the
// overlay keeps the panel up; a click outside the overlay content hides it
// immediately. Subscribers (the SSE feed, the wake effect) are notified of
// every state change through a listener registry with explicit
// unsubscribe, so a torn-down HTTP stream never leaks a callback.
//
// All entry points are safe for concurrent use; events arriving from the
// IRC goroutine and from HTTP handlers are serialized by an internal mutex
// so the dismiss timer and panel state never race.
package overlay
