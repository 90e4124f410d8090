package session

type State int

const (
	StateNew State = iota
	StateOfferSent
	StateOfferReceived
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = map[State]string{
	StateNew:           "new",
	StateOfferSent:     "offer_sent",
	StateOfferReceived: "offer_received",
	StateNegotiating:   "negotiating",
	StateConnected:     "connected",
	StateFailed:        "failed",
	StateClosed:        "closed",
}

// Closed is reachable from every state but itself
var transitions = map[State][]State{
	StateNew:           {StateOfferSent, StateOfferReceived, StateFailed},
	StateOfferSent:     {StateNegotiating, StateFailed},
	StateOfferReceived: {StateNegotiating, StateFailed},
	StateNegotiating:   {StateConnected, StateFailed},
	StateConnected:     {StateFailed},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) CanTransition(to State) bool {
	if s == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}

	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
