// Package rat implements the rat pipeline: one input adapter, an optional
// transform stage and one output adapter driven by a dedicated worker.
//
// The worker repeatedly receives from the input, drains every pending item,
// runs it through the stage and hands each result to the output's single
// slot. Per-item failures never stop the worker. Reception and transform
// failures go to the flow-error queue, delivery failures to the send-error
// queue, and every failure is logged through the rat's log sink.
//
// Input adapters come in three shapes:
//
//   - direct: any Input doing its work synchronously in Receive
//   - polling: NewPolling wraps an Input; the worker sleeps between cycles
//   - buffered: NewBuffered runs a Source on a background goroutine feeding
//     a bounded buffer that Receive drains
//
// Every blocking wait is bounded (100ms by default) and also wakes on stop,
// so a stopped rat exits within a couple of poll cycles.
package rat
