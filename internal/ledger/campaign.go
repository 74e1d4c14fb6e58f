package ledger

import (
	"time"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

// NightFor returns the campaign night a timestamp falls in, evaluated in
// loc. The window is days 21-30 of whatever month t is in.
func NightFor(t time.Time, loc *time.Location) (int, bool) {
	if loc != nil {
		t = t.In(loc)
	}
	day := t.Day()
	return day, domain.ValidNight(day)
}

// recompute rebuilds total and night buckets from the record history.
func recompute(snap *domain.Snapshot, loc *time.Location) {
	total := decimal.Zero
	nights := domain.EmptyNights()
	for _, rec := range snap.DonationHistory {
		total = total.Add(rec.Amount)
		if n, ok := NightFor(rec.Timestamp, loc); ok {
			nights[n] = nights[n].Add(rec.Amount)
		}
	}
	snap.TotalDonations = total
	snap.NightlyDonations = nights
}

func aggregatesOf(snap *domain.Snapshot) domain.Aggregates {
	nights := make(map[int]decimal.Decimal, domain.NightCount)
	for n := domain.FirstNight; n <= domain.LastNight; n++ {
		nights[n] = snap.NightlyDonations[n]
	}
	return domain.Aggregates{
		TotalDonations:   snap.TotalDonations,
		NightlyDonations: nights,
		LastUpdated:      time.UnixMilli(snap.LastUpdated).UTC(),
	}
}
