package rat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorKind is the stage a per-item failure happened in.
type ErrorKind int

const (
	// KindReceive is a failure of Input.Receive. Routed to the flow-error queue.
	KindReceive ErrorKind = iota
	// KindTransform is a failure of the stage. Routed to the flow-error queue.
	KindTransform
	// KindSend is a failure of Output.Transmit. Routed to the send-error queue.
	KindSend
)

// LogType is the type tag of the log entry for this kind. A delivery
// failure is tagged transmit, or transform/transmit when the rat has a stage.
func (k ErrorKind) LogType(staged bool) string {
	switch k {
	case KindReceive:
		return "receive"
	case KindTransform:
		return "transform/transmit"
	case KindSend:
		if staged {
			return "transform/transmit"
		}
		return "transmit"
	default:
		return "unknown"
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindReceive:
		return "receive"
	case KindTransform:
		return "transform"
	case KindSend:
		return "send"
	default:
		return "unknown"
	}
}

// IsFlow reports whether the kind goes to the flow-error queue.
func (k ErrorKind) IsFlow() bool {
	return k != KindSend
}

// Source suffixes of error containers
const (
	FlowSuffix = "#flow"
	SendSuffix = "#send"
)

// ErrorContainer is what lands in an error queue for a failed item.
type ErrorContainer struct {
	ID        string    `json:"id"`
	Payload   any       `json:"payload"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Kind      ErrorKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorContainer wraps a failed payload. source is the rat name followed
// by FlowSuffix or SendSuffix.
func NewErrorContainer(payload any, err error, source string, kind ErrorKind) *ErrorContainer {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ErrorContainer{
		ID:        uuid.NewString(),
		Payload:   payload,
		Message:   msg,
		Source:    source,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

func (c *ErrorContainer) String() string {
	return fmt.Sprintf("%s: %s (%v)", c.Source, c.Message, c.Payload)
}

// panicError converts a recovered panic into an error.
func panicError(where string, p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic in %s: %w", where, err)
	}
	return fmt.Errorf("panic in %s: %v", where, p)
}
