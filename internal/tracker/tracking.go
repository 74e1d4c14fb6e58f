package tracker

import (
	"crypto/rand"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sapliy/nightly-giving/internal/ledger/domain"
)

// Attribution parameters appended to every outbound charity link.
const (
	UTMSource   = "last_10_nights_app"
	UTMMedium   = "referral"
	UTMCampaign = "ramadan_giving"
)

// NewTrackingID returns "ext-" followed by a ULID: 48 bits of millisecond
// time and 80 bits from entropy.
func NewTrackingID(now time.Time, entropy io.Reader) (string, error) {
	return newID("ext-", now, entropy)
}

func newID(prefix string, now time.Time, entropy io.Reader) (string, error) {
	if entropy == nil {
		entropy = rand.Reader
	}
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return prefix + id.String(), nil
}

// DecorateURL validates dest as an absolute http(s) URL and adds the
// attribution and tracking query parameters, keeping any existing ones.
func DecorateURL(dest, charityID, trackingID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil {
		return "", &domain.ValidationError{Field: "destinationUrl", Reason: "not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &domain.ValidationError{Field: "destinationUrl", Reason: "must be an absolute http or https URL"}
	}
	if u.Host == "" {
		return "", &domain.ValidationError{Field: "destinationUrl", Reason: "missing host"}
	}

	q := u.Query()
	q.Set("utm_source", UTMSource)
	q.Set("utm_medium", UTMMedium)
	q.Set("utm_campaign", UTMCampaign)
	q.Set("utm_content", charityID)
	q.Set("tracking_id", trackingID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
