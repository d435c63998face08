package reconcile

import "github.com/ariefcatur/go-order-console/internal/gateway"

// KindSkipped marks an action the engine refused to send.
const KindSkipped gateway.Kind = "skipped"

// Outcome is what every engine action hands back: never an error, always
// one of ok, unauthorized, request_failed, transport_failed or skipped.
type Outcome struct {
	Kind    gateway.Kind
	Message string
}

func (o Outcome) OK() bool { return o.Kind == gateway.KindOK }

func (o Outcome) Unauthorized() bool { return o.Kind == gateway.KindUnauthorized }

func outcomeOf(err error) Outcome {
	return Outcome{Kind: gateway.KindOf(err), Message: gateway.Message(err)}
}

func skipped(msg string) Outcome { return Outcome{Kind: KindSkipped, Message: msg} }
