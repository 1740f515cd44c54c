package xmpp

// State is the connection state machine's current position (C6, spec §3
// "Connection State").
type State int

// States, in the order the handshake normally visits them.
const (
	Connecting State = iota
	StreamNegotiation
	StartingEncryption
	Authenticating
	Registering
	Binding
	FetchingRoster
	SettingPresence
	Connected
	Offline
	Error
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case StreamNegotiation:
		return "StreamNegotiation"
	case StartingEncryption:
		return "StartingEncryption"
	case Authenticating:
		return "Authenticating"
	case Registering:
		return "Registering"
	case Binding:
		return "Binding"
	case FetchingRoster:
		return "FetchingRoster"
	case SettingPresence:
		return "SettingPresence"
	case Connected:
		return "Connected"
	case Offline:
		return "Offline"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// setState updates the state and fires the state-changed event to every
// subscriber (spec §6 "Observable events: State-changed...").
func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	subs := append([]func(State){}, c.stateSubs...)
	c.stateMu.Unlock()
	for _, f := range subs {
		f(s)
	}
}

// OnStateChange registers a subscriber invoked on every state transition.
// Per spec §5's event-subscription model, subscribers are invoked against a
// lock-free snapshot taken at fire time, so a subscriber may safely
// register further subscribers without deadlocking.
func (c *Client) OnStateChange(f func(State)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.stateSubs = append(c.stateSubs, f)
}
