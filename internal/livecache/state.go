package livecache

// State is the lifecycle of a shared subscription.
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateLive
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateLive:
		return "LIVE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
