package engine

// State is a step of the market cycle.
type State int

const (
	StateIdle State = iota
	StateFetchingMarket
	StateFetchingPrice
	StateSizing
	StateSubmittingBuy
	StateWaiting
	StateSubmittingSell
	StateAborted
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateFetchingMarket: "FetchingMarket",
	StateFetchingPrice:  "FetchingPrice",
	StateSizing:         "Sizing",
	StateSubmittingBuy:  "SubmittingBuy",
	StateWaiting:        "Waiting",
	StateSubmittingSell: "SubmittingSell",
	StateAborted:        "Aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateAborted
}
