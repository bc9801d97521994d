package escrow

// Event types published after a transition commits.
const (
	EventInitialized = "escrow.initialized"
	EventCompleted   = "escrow.completed"
	EventPulledBack  = "escrow.pulled_back"
)

// Publisher receives committed transitions. parties are the base58
// addresses of sender and receiver, for subscriber filtering.
type Publisher interface {
	Publish(eventType string, parties []string, data any)
}

func (s *Service) publish(eventType string, res *Result) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(eventType, []string{
		res.Record.Sender.String(),
		res.Record.Receiver.String(),
	}, res)
}
