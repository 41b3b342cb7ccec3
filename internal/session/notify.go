package session

import "github.com/therealutkarshpriyadarshi/panocam/pkg/models"

// Notifier receives every user-facing event. Controllers call Notify while
// holding their lock, so implementations must not call back into them.
type Notifier interface {
	Notify(ev models.Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ev models.Event)

// Notify calls f(ev)
func (f NotifierFunc) Notify(ev models.Event) { f(ev) }

// Discard drops every event
var Discard Notifier = NotifierFunc(func(models.Event) {})
