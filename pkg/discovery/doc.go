// Package discovery runs the adaptive scan loop that keeps the engine
// aware of nearby devices. Scan frequency adapts to network activity:
// a changing neighborhood is scanned often, a stable one rarely, an
// empty one somewhere in between. Peer appearance and loss are
// reported exactly once per transition.
package discovery
