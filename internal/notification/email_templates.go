package notification

import (
	"bytes"
	"fmt"
	"html/template"
)

// AssetsBaseURL hosts the logo referenced by the HTML layout.
const AssetsBaseURL = "https://last10nights.app"

const baseLayout = `
<!DOCTYPE html>
<html>
<head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
    <style>
        body { background-color: #f4f1ea; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif; font-size: 16px; line-height: 1.5; margin: 0; padding: 0; }
        table { border-collapse: separate; width: 100%; }
        .container { margin: 0 auto; max-width: 580px; padding: 10px; }
        .main { background: #ffffff; border-radius: 8px; border: 1px solid #e6dfd0; }
        .wrapper { padding: 24px; }
        .header { padding: 24px 0; text-align: center; }
        .footer { margin-top: 10px; text-align: center; color: #8a8170; font-size: 12px; }
        h1 { font-size: 22px; margin: 0 0 20px 0; color: #1f3a3d; text-align: center; }
        p { margin: 0 0 16px 0; color: #44514f; }
        .summary td { padding: 6px 0; border-bottom: 1px solid #efe9dc; }
        .summary td.value { text-align: right; font-weight: 600; color: #1f3a3d; }
        .night { font-size: 40px; font-weight: 700; color: #b8860b; text-align: center; margin: 8px 0 16px 0; }
        .logo { width: 96px; height: auto; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <img src="{{.LogoURL}}" alt="Last 10 Nights" class="logo" />
        </div>
        <table role="presentation" class="main">
            <tr>
                <td class="wrapper">
                    {{.Content}}
                </td>
            </tr>
        </table>
        <div class="footer">
            You are receiving this because you scheduled nightly giving for the last 10 nights.
        </div>
    </div>
</body>
</html>
`

const confirmationContent = `
    <h1>Your nightly giving is set up</h1>
    <p>Assalamu alaikum {{.to_name}},</p>
    <p>Thank you for pledging to give to <strong>{{.charity_name}}</strong> on each of the last 10 nights.</p>
    <table role="presentation" class="summary">
        <tr><td>Amount per night</td><td class="value">{{.daily_amount}}</td></tr>
        <tr><td>Total pledge</td><td class="value">{{.total_amount}}</td></tr>
        <tr><td>Reminder time</td><td class="value">{{.reminder_time}}</td></tr>
    </table>
    <p>We will send you a reminder every night from night 21 to night 30.</p>
`

const reminderContent = `
    <h1>Tonight's reminder</h1>
    <div class="night">Night {{.night_number}}</div>
    <p>Assalamu alaikum {{.to_name}},</p>
    <p>This is your reminder to give <strong>{{.amount}}</strong> to <strong>{{.charity_name}}</strong> tonight.</p>
    <p>May it be accepted from you.</p>
`

// RenderEmailTemplate renders the HTML body for kind inside the shared layout.
func RenderEmailTemplate(kind Kind, data map[string]string) (string, error) {
	tmplData := map[string]interface{}{
		"LogoURL": AssetsBaseURL + "/logo.png",
	}
	for k, v := range data {
		tmplData[k] = v
	}

	var contentTmpl string
	switch kind {
	case KindConfirmation:
		contentTmpl = confirmationContent
	case KindReminder:
		contentTmpl = reminderContent
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	tContent, err := template.New("content").Parse(contentTmpl)
	if err != nil {
		return "", err
	}
	var contentBuf bytes.Buffer
	if err := tContent.Execute(&contentBuf, tmplData); err != nil {
		return "", err
	}

	// The content block is already escaped; mark it safe for the layout.
	tmplData["Content"] = template.HTML(contentBuf.String())

	tLayout, err := template.New("layout").Parse(baseLayout)
	if err != nil {
		return "", err
	}
	var layoutBuf bytes.Buffer
	if err := tLayout.Execute(&layoutBuf, tmplData); err != nil {
		return "", err
	}

	return layoutBuf.String(), nil
}
