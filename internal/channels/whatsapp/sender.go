package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Sender delivers replies via the Twilio Messages REST API.
type Sender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

// NewSender creates a Twilio WhatsApp sender. from must be in
// "whatsapp:+<number>" form.
func NewSender(accountSID, authToken, from string) *Sender {
	return &Sender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioAPIBase,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API base (tests).
func (s *Sender) SetBaseURL(u string) { s.baseURL = strings.TrimRight(u, "/") }

func (s *Sender) Channel() string { return bus.ChannelWhatsApp }

// Send implements dispatch.Sender.
func (s *Sender) Send(ctx context.Context, reply bus.OutboundReply) (string, error) {
	to := reply.Target
	if !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", reply.Text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: send message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio: send returned %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}
