package downloader

// Reporter publishes client events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel, dropping them when the channel
// is full so a slow consumer never stalls a client.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	select {
	case r.ch <- e:
	default:
	}
}
