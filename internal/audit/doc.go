// Package audit buffers audit events and hands them to a Sink on a
// dispatcher goroutine.
//
// A full buffer either drops the event (counted by Dropped) or blocks the
// emitter, depending on DropIfFull. Sink errors are counted by Failed and
// logged; they never reach the operation that produced the event.
package audit
