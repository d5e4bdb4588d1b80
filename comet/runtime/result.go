package runtime

// PromiseStatus is the tri-state outcome of a completed asynchronous call.
type PromiseStatus int

const (
	PromiseNotReady PromiseStatus = iota
	PromiseSuccessful
	PromiseFailed
)

func (s PromiseStatus) String() string {
	switch s {
	case PromiseNotReady:
		return "not_ready"
	case PromiseSuccessful:
		return "successful"
	case PromiseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PromiseResult is what the environment hands to a callback for each of the
// promises it was chained after. Payload is only set when Successful.
type PromiseResult struct {
	Status  PromiseStatus
	Payload []byte
}

func NotReady() PromiseResult {
	return PromiseResult{Status: PromiseNotReady}
}

func Successful(payload []byte) PromiseResult {
	return PromiseResult{Status: PromiseSuccessful, Payload: payload}
}

func Failed() PromiseResult {
	return PromiseResult{Status: PromiseFailed}
}
