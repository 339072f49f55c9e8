// Package dialog defines the bot's conversation machine: its states and
// events, the typed per-conversation extended state, the command classifier,
// guards, reply actions and the transition table built from them.
package dialog
