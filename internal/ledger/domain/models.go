package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Campaign nights are the days of month 21 through 30.
const (
	FirstNight = 21
	LastNight  = 30
	NightCount = LastNight - FirstNight + 1
)

// MainSnapshotID is the key of the single persisted snapshot.
const MainSnapshotID = "main"

type ClickStatus string

const (
	ClickPending   ClickStatus = "pending"
	ClickConfirmed ClickStatus = "confirmed"
	ClickExpired   ClickStatus = "expired"
)

// DonationPledge is the user's intent, fixed at creation.
type DonationPledge struct {
	ID             string          `json:"id"`
	AmountPerNight decimal.Decimal `json:"amountPerNight"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	CharityID      string          `json:"charityId"`
	CharityName    string          `json:"charityName"`
	DonorEmail     string          `json:"donorEmail,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	IsRecurring    bool            `json:"isRecurring"`
	ReminderTime   string          `json:"reminderTime,omitempty"`
	Region         string          `json:"region,omitempty"`
}

// DonationRecord is an append-only history entry.
type DonationRecord struct {
	ID             string          `json:"id"`
	Amount         decimal.Decimal `json:"amount"`
	CharityID      string          `json:"charityId"`
	CharityName    string          `json:"charityName"`
	Timestamp      time.Time       `json:"timestamp"`
	DonorEmail     string          `json:"donorEmail,omitempty"`
	IsScheduled    bool            `json:"isScheduled"`
	Region         string          `json:"region,omitempty"`
	IsExternal     bool            `json:"isExternal"`
	ExternalSource string          `json:"externalSource,omitempty"`
	PledgeID       string          `json:"pledgeId,omitempty"`
	TrackingID     string          `json:"trackingId,omitempty"`
	TransactionID  string          `json:"transactionId,omitempty"`
}

// PendingClick is an outbound click awaiting confirmation.
type PendingClick struct {
	TrackingID     string      `json:"trackingId"`
	CharityID      string      `json:"charityId"`
	CharityName    string      `json:"charityName"`
	Region         string      `json:"region,omitempty"`
	ReferrerURL    string      `json:"referrerUrl,omitempty"`
	DestinationURL string      `json:"destinationUrl"`
	TrackedURL     string      `json:"trackedUrl"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         ClickStatus `json:"status"`
}

// PledgeRequest is the input to Ledger.AddDonation. For recurring pledges
// either AmountPerNight or TotalAmount may be given; the other is derived.
type PledgeRequest struct {
	AmountPerNight decimal.Decimal `json:"amountPerNight"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	CharityID      string          `json:"charityId"`
	CharityName    string          `json:"charityName"`
	DonorEmail     string          `json:"donorEmail,omitempty"`
	IsRecurring    bool            `json:"isRecurring"`
	ReminderTime   string          `json:"reminderTime,omitempty"`
	Region         string          `json:"region,omitempty"`
}

// Confirmation is a validated external confirmation handed to the ledger.
// Pending clicks created before NotBefore are treated as expired.
type Confirmation struct {
	TrackingID    string
	Amount        decimal.Decimal
	DonorEmail    string
	TransactionID string
	Timestamp     time.Time
	NotBefore     time.Time
}

type Aggregates struct {
	TotalDonations   decimal.Decimal         `json:"totalDonations"`
	NightlyDonations map[int]decimal.Decimal `json:"nightlyDonations"`
	LastUpdated      time.Time               `json:"lastUpdated"`
}

// Snapshot is the persisted shape of the ledger.
type Snapshot struct {
	DonationHistory            []DonationRecord        `json:"donationHistory"`
	PendingDonations           []PendingClick          `json:"pendingDonations"`
	ConfirmedExternalDonations []DonationRecord        `json:"confirmedExternalDonations"`
	Pledges                    []DonationPledge        `json:"pledges"`
	TotalDonations             decimal.Decimal         `json:"totalDonations"`
	NightlyDonations           map[int]decimal.Decimal `json:"nightlyDonations"`
	LastUpdated                int64                   `json:"lastUpdated"`
}

// NewSnapshot returns the default empty snapshot with all ten night buckets.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		DonationHistory:            []DonationRecord{},
		PendingDonations:           []PendingClick{},
		ConfirmedExternalDonations: []DonationRecord{},
		Pledges:                    []DonationPledge{},
		TotalDonations:             decimal.Zero,
		NightlyDonations:           EmptyNights(),
	}
}

// EmptyNights returns a bucket map with every campaign night set to zero.
func EmptyNights() map[int]decimal.Decimal {
	nights := make(map[int]decimal.Decimal, NightCount)
	for n := FirstNight; n <= LastNight; n++ {
		nights[n] = decimal.Zero
	}
	return nights
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		DonationHistory:            append([]DonationRecord{}, s.DonationHistory...),
		PendingDonations:           append([]PendingClick{}, s.PendingDonations...),
		ConfirmedExternalDonations: append([]DonationRecord{}, s.ConfirmedExternalDonations...),
		Pledges:                    append([]DonationPledge{}, s.Pledges...),
		TotalDonations:             s.TotalDonations,
		NightlyDonations:           make(map[int]decimal.Decimal, len(s.NightlyDonations)),
		LastUpdated:                s.LastUpdated,
	}
	for k, v := range s.NightlyDonations {
		c.NightlyDonations[k] = v
	}
	return c
}

// Normalize fills nil collections left by a partial or legacy snapshot.
func (s *Snapshot) Normalize() {
	if s.DonationHistory == nil {
		s.DonationHistory = []DonationRecord{}
	}
	if s.PendingDonations == nil {
		s.PendingDonations = []PendingClick{}
	}
	if s.ConfirmedExternalDonations == nil {
		s.ConfirmedExternalDonations = []DonationRecord{}
	}
	if s.Pledges == nil {
		s.Pledges = []DonationPledge{}
	}
	if s.NightlyDonations == nil {
		s.NightlyDonations = EmptyNights()
	}
	for n := FirstNight; n <= LastNight; n++ {
		if _, ok := s.NightlyDonations[n]; !ok {
			s.NightlyDonations[n] = decimal.Zero
		}
	}
}

// ParseReminderTime parses a 24h "HH:MM" string.
func ParseReminderTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 || !isDigits(h) || !isDigits(m) {
		return 0, 0, fmt.Errorf("reminder time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("reminder time %q: hour out of range", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("reminder time %q: minute out of range", s)
	}
	return hour, minute, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidNight reports whether n is a campaign night.
func ValidNight(n int) bool {
	return n >= FirstNight && n <= LastNight
}
