package dialog

import "github.com/m3rciful/fsmbot/core/fsm"

// Commands routed by the AwaitingCommand choice.
const (
	CommandHello   = "hello"
	CommandAnother = "another"
)

// NewDefinition builds and validates the conversation machine. maxChain <= 0
// selects fsm.DefaultMaxChain.
func NewDefinition(h *Handlers, maxChain int) (*Definition, error) {
	return fsm.NewBuilder[*Conversation]().
		Initial(Idle).
		Terminal(Ended).
		ErrorEvent(InvalidInput).
		MaxChain(maxChain).
		State(HelloFlowPrompting, h.SendNamePrompt).
		State(HelloFlowAwaitingName, h.SendGreeting).
		State(EchoFlow, h.SendEcho).
		Choice(AwaitingCommand,
			branch{Target: HelloFlowPrompting, Guard: CommandGuard(CommandHello)},
			branch{Target: EchoFlow, Guard: CommandGuard(CommandAnother)},
			branch{Target: Idle, Action: h.SendParseError},
		).
		Transition(
			transition{From: Idle, Event: TextReceived, To: AwaitingCommand, Guard: AnyCommandGuard},
			transition{From: HelloFlowPrompting, Event: TextReceived, To: HelloFlowAwaitingName},
			transition{From: HelloFlowAwaitingName, Event: TextReceived, To: Ended},
			transition{From: HelloFlowAwaitingName, Event: ResponseSent, To: Ended},
			transition{From: HelloFlowAwaitingName, Event: InvalidInput, To: HelloFlowPrompting},
			transition{From: EchoFlow, Event: ResponseSent, To: Ended},
			transition{From: EchoFlow, Event: InvalidInput, To: Ended},
		).
		Build()
}
