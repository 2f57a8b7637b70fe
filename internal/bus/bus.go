package bus

// Notification is an operator-facing message produced by the watcher.
type Notification struct {
	Kind string
	Text string
}
