// Package events publishes committed session state transitions for
// external observers. The core never depends on a broker being present;
// the default publisher is a no-op.
package events
