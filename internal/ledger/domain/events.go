package domain

import "time"

const (
	EventDonationRecorded          = "donation.recorded"
	EventDonationExternalConfirmed = "donation.external_confirmed"
	EventLedgerReset               = "ledger.reset"
)

// LedgerEvent is emitted after each committed ledger mutation.
type LedgerEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Record     *DonationRecord `json:"record,omitempty"`
	Aggregates Aggregates      `json:"aggregates"`
}
