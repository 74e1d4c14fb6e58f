package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/resend/resend-go/v2"
)

func TestEmailJSRelay_Send(t *testing.T) {
	var got emailJSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	relay := NewEmailJSRelay(WithEmailJSEndpoint(server.URL), WithHTTPClient(server.Client()))
	resp, err := relay.Send(context.Background(), Message{
		ServiceID:  "svc",
		TemplateID: "tpl",
		AuthToken:  "pub-key",
		Params:     map[string]string{"to_email": "a@b.co"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Status != 200 || resp.Text != "OK" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if got.ServiceID != "svc" || got.TemplateID != "tpl" || got.UserID != "pub-key" || got.TemplateParams["to_email"] != "a@b.co" {
		t.Errorf("Unexpected request %+v", got)
	}
}

func TestEmailJSRelay_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("The template ID is invalid"))
	}))
	defer server.Close()

	relay := NewEmailJSRelay(WithEmailJSEndpoint(server.URL), WithHTTPClient(server.Client()))
	_, err := relay.Send(context.Background(), Message{})
	if err == nil || !strings.Contains(err.Error(), "The template ID is invalid") {
		t.Errorf("Expected relay error text surfaced, got %v", err)
	}
}

type fakeEmails struct {
	req *resend.SendEmailRequest
	err error
}

func (f *fakeEmails) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	f.req = params
	if f.err != nil {
		return nil, f.err
	}
	return &resend.SendEmailResponse{Id: "re_123"}, nil
}

func TestResendRelay_Send(t *testing.T) {
	emails := &fakeEmails{}
	relay := newResendRelay(emails, "", "")

	resp, err := relay.Send(context.Background(), Message{Kind: KindReminder, Params: ReminderParams(testPledge(), 22)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != "re_123" {
		t.Errorf("Expected id re_123, got %s", resp.ID)
	}
	if emails.req.From != DefaultFromEmail || emails.req.To[0] != "aisha@example.com" {
		t.Errorf("Unexpected envelope %+v", emails.req)
	}
	if !strings.Contains(emails.req.Html, "Night 22") || emails.req.Text == "" {
		t.Error("Expected rendered HTML and text bodies")
	}
}

func TestResendRelay_RedirectAndErrors(t *testing.T) {
	emails := &fakeEmails{}
	relay := newResendRelay(emails, "giving@example.org", "dev@example.org")

	if _, err := relay.Send(context.Background(), Message{Kind: KindConfirmation, Params: ConfirmationParams(testPledge())}); err != nil {
		t.Fatal(err)
	}
	if emails.req.To[0] != "dev@example.org" || !strings.HasPrefix(emails.req.Subject, "[DEV-REDIRECT]") {
		t.Errorf("Expected redirected message, got to=%v subject=%q", emails.req.To, emails.req.Subject)
	}

	if _, err := relay.Send(context.Background(), Message{Kind: KindConfirmation, Params: map[string]string{}}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Expected ErrNoRecipient, got %v", err)
	}

	emails.err = errors.New("422 validation_error")
	if _, err := relay.Send(context.Background(), Message{Kind: KindReminder, Params: ReminderParams(testPledge(), 21)}); err == nil {
		t.Error("Expected resend error")
	}
}
