package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseReminderTime(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"20:00", 20, 0, false},
		{"7:05", 7, 5, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"1200", 0, 0, true},
		{"ab:cd", 0, 0, true},
		{"+9:+5", 0, 0, true},
		{"-0:00", 0, 0, true},
		{"9:-5", 0, 0, true},
		{" 9:05", 9, 5, false},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseReminderTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && (h != tt.hour || m != tt.minute) {
				t.Errorf("Expected %d:%d, got %d:%d", tt.hour, tt.minute, h, m)
			}
		})
	}
}

func TestSnapshotNormalizeAndClone(t *testing.T) {
	s := &Snapshot{NightlyDonations: map[int]decimal.Decimal{25: decimal.NewFromInt(5)}}
	s.Normalize()

	if len(s.NightlyDonations) != NightCount {
		t.Fatalf("Expected %d nights, got %d", NightCount, len(s.NightlyDonations))
	}
	if !s.NightlyDonations[25].Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected night 25 preserved, got %s", s.NightlyDonations[25])
	}
	if s.DonationHistory == nil || s.Pledges == nil {
		t.Error("Expected nil slices to be replaced")
	}

	c := s.Clone()
	c.NightlyDonations[25] = decimal.Zero
	c.DonationHistory = append(c.DonationHistory, DonationRecord{ID: "x"})
	if !s.NightlyDonations[25].Equal(decimal.NewFromInt(5)) || len(s.DonationHistory) != 0 {
		t.Error("Clone shares state with original")
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &ValidationError{Field: "amount", Reason: "must be positive"}
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	err = &NotFoundError{TrackingID: "ext-1"}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("NotFoundError should not match ErrValidation")
	}
}
