package notification

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/sapliy/nightly-giving/internal/ledger/domain"
	"github.com/shopspring/decimal"
)

// Plain-text bodies, sent alongside the HTML version.
var Templates = map[Kind]string{
	KindConfirmation: `Assalamu alaikum {{.to_name}},

Your nightly pledge to {{.charity_name}} is set up.

Amount per night: {{.daily_amount}}
Total over the last 10 nights: {{.total_amount}}
Reminder time: {{.reminder_time}}

We will remind you every night from night 21 to night 30.
`,
	KindReminder: `Assalamu alaikum {{.to_name}},

Tonight is night {{.night_number}} of the last 10 nights.

This is your reminder to give {{.amount}} to {{.charity_name}}.
`,
}

var subjects = map[Kind]string{
	KindConfirmation: "Your nightly giving to {{.charity_name}} is confirmed",
	KindReminder:     "Night {{.night_number}}: your reminder to give to {{.charity_name}}",
}

// RenderTemplate renders the text body for kind.
func RenderTemplate(kind Kind, data map[string]string) (string, error) {
	content, ok := Templates[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return execText(string(kind), content, data)
}

// GetEmailSubject renders the subject line for kind.
func GetEmailSubject(kind Kind, data map[string]string) string {
	content, ok := subjects[kind]
	if !ok {
		return "Last 10 Nights giving"
	}
	s, err := execText("subject", content, data)
	if err != nil {
		return "Last 10 Nights giving"
	}
	return s
}

func execText(name, content string, data map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ConfirmationParams builds the template parameters of a pledge confirmation.
func ConfirmationParams(p domain.DonationPledge) map[string]string {
	return map[string]string{
		"to_email":      p.DonorEmail,
		"to_name":       NameFromEmail(p.DonorEmail),
		"charity_name":  p.CharityName,
		"daily_amount":  dailyAmount(p).StringFixed(2),
		"total_amount":  p.TotalAmount.StringFixed(2),
		"reminder_time": FormatReminderTime(p.ReminderTime),
	}
}

// ReminderParams builds the template parameters of a nightly reminder.
func ReminderParams(p domain.DonationPledge, night int) map[string]string {
	return map[string]string{
		"to_email":     p.DonorEmail,
		"to_name":      NameFromEmail(p.DonorEmail),
		"charity_name": p.CharityName,
		"amount":       dailyAmount(p).StringFixed(2),
		"night_number": strconv.Itoa(night),
	}
}

func dailyAmount(p domain.DonationPledge) decimal.Decimal {
	if p.AmountPerNight.IsPositive() {
		return p.AmountPerNight
	}
	return p.TotalAmount.Div(decimal.NewFromInt(domain.NightCount))
}

// NameFromEmail returns the local part of an address.
func NameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// FormatReminderTime renders "HH:MM" as 12-hour "h:MM AM/PM". Unparseable
// input is returned unchanged.
func FormatReminderTime(hhmm string) string {
	h, m, err := domain.ParseReminderTime(hhmm)
	if err != nil {
		return hhmm
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, suffix)
}
