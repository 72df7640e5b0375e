package engine

// Message tags.
const (
	TagResult Atom = "result"
	TagError  Atom = "error"
)

// Message is a record delivered to a consumer. Result messages carry Data,
// Shape and DType; error messages carry Reason.
type Message struct {
	Tag    Atom
	Data   []byte
	Shape  Term
	DType  Term
	Reason string
}

// ResultMessage builds the result record for t.
func ResultMessage(t Tensor) Message {
	return Message{Tag: TagResult, Data: t.Data, Shape: t.Shape, DType: t.DType}
}

// ErrorMessage builds the error record callers send when execution fails.
func ErrorMessage(reason string) Message {
	return Message{Tag: TagError, Reason: reason}
}

// Consumer receives delivered messages. Send must not block on the
// receiver; a returned error means the target could not be resolved or the
// delivery was rejected.
type Consumer interface {
	Send(target Term, msg Message) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(target Term, msg Message) error

// Send implements Consumer.
func (f ConsumerFunc) Send(target Term, msg Message) error {
	return f(target, msg)
}
