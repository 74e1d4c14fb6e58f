package ledger

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

const defaultRegion = "General"

var nightsPerPledge = decimal.NewFromInt(domain.NightCount)

// buildPledge validates req and derives the immutable pledge. A recurring
// pledge is credited as a lump sum of AmountPerNight x 10.
func buildPledge(req domain.PledgeRequest, now time.Time) (domain.DonationPledge, error) {
	p := domain.DonationPledge{
		ID:          uuid.NewString(),
		CharityID:   strings.TrimSpace(req.CharityID),
		CharityName: strings.TrimSpace(req.CharityName),
		DonorEmail:  strings.TrimSpace(req.DonorEmail),
		CreatedAt:   now,
		IsRecurring: req.IsRecurring,
		Region:      strings.TrimSpace(req.Region),
	}
	if p.CharityID == "" && p.CharityName == "" {
		return p, &domain.ValidationError{Field: "charity", Reason: "charity id or name is required"}
	}
	if p.CharityName == "" {
		p.CharityName = p.CharityID
	}
	if p.Region == "" {
		p.Region = defaultRegion
	}
	if req.AmountPerNight.IsNegative() || req.TotalAmount.IsNegative() {
		return p, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	if !req.IsRecurring {
		p.TotalAmount = req.TotalAmount
		if p.TotalAmount.IsZero() {
			p.TotalAmount = req.AmountPerNight
		}
		if !p.TotalAmount.IsPositive() {
			return p, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
		}
		if p.DonorEmail != "" {
			if _, err := mail.ParseAddress(p.DonorEmail); err != nil {
				return p, &domain.ValidationError{Field: "donorEmail", Reason: "not a valid address"}
			}
		}
		return p, nil
	}

	switch {
	case req.AmountPerNight.IsPositive():
		p.AmountPerNight = req.AmountPerNight
		p.TotalAmount = req.AmountPerNight.Mul(nightsPerPledge)
		if req.TotalAmount.IsPositive() && !req.TotalAmount.Equal(p.TotalAmount) {
			return p, &domain.ValidationError{Field: "totalAmount", Reason: "must equal amountPerNight x 10"}
		}
	case req.TotalAmount.IsPositive():
		p.TotalAmount = req.TotalAmount
		p.AmountPerNight = req.TotalAmount.Div(nightsPerPledge)
	default:
		return p, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	if _, _, err := domain.ParseReminderTime(req.ReminderTime); err != nil {
		return p, &domain.ValidationError{Field: "reminderTime", Reason: err.Error()}
	}
	p.ReminderTime = strings.TrimSpace(req.ReminderTime)

	if p.DonorEmail == "" {
		return p, &domain.ValidationError{Field: "donorEmail", Reason: "required for recurring pledges"}
	}
	if _, err := mail.ParseAddress(p.DonorEmail); err != nil {
		return p, &domain.ValidationError{Field: "donorEmail", Reason: "not a valid address"}
	}
	return p, nil
}
