// Package conversation owns the live conversation machines of the bot.
//
// A Registry maps chat keys to Handles. Each Handle carries one machine
// instance and a mailbox of pending messages. The Processor feeds mailboxes
// with a single consumer per handle so messages of one chat are applied in
// arrival order and never concurrently, while different chats proceed in
// parallel up to the configured worker count.
//
// A conversation that reaches the terminal state, or fails fatally, is
// retired from the registry before its result is reported. Messages that were
// still queued for it move, in order, to a fresh handle that starts at the
// initial state.
package conversation
