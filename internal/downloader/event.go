package downloader

// Event is a push notification from a client about one torrent. Events are
// nudges: consumers re-read client state rather than trusting the payload.
type Event struct {
	ClientID int64
	Hash     string
	Type     EventType
}

// EventType defines the set of events clients may emit.
type EventType string

const (
	EventStart    EventType = "Start"
	EventPaused   EventType = "Paused"
	EventStopped  EventType = "Stopped"
	EventComplete EventType = "Complete"
	EventFailed   EventType = "Failed"
)
