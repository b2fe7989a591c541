package entity

import "time"

type ProbeJob struct {
	PaymentID uint64

	Gateway   string
	Reference string

	Attempts   int32
	NextFireAt time.Time
	ArmedAt    time.Time
	Exhausted  bool
	ReportedAt *time.Time

	UpdatedAt time.Time
}
