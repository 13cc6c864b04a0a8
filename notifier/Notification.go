package notifier

// Notification is published on Topic with Data encoded as JSON.
type Notification struct {
	Topic string
	Data  interface{}
}
