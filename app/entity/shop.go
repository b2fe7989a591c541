package entity

type Shop struct {
	ID uint64

	Name          string
	WebhookURL    string
	WebhookSecret string
	WebhookEvents []string
}

func (s *Shop) EventEnabled(event string) bool {
	for _, item := range s.WebhookEvents {
		if item == event {
			return true
		}
	}
	return false
}
