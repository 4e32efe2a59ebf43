// Package manager_mail sends the supervisor's operator-facing alert
// mail via SendGrid. The teacher has no mail package of its own; this
// is grounded directly on original_source/src/manager_mail/mod.rs's
// SendGrid v3 JSON shape, re-expressed with net/http + encoding/json
// to match the teacher's own HTTP client style elsewhere in the repo
// (no mail-specific SDK appears anywhere in the example pack).
package manager_mail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/gostonefire/mygrid/mgrerrors"
)

// sendURL is a var, not a const, so tests can redirect it at an
// httptest server.
var sendURL = "https://api.sendgrid.com/v3/mail/send"

// Client sends plain-text alert mail through SendGrid.
type Client struct {
	httpClient *http.Client
	apiKey     string
	from       string
	to         string
}

// NewClient validates from/to addresses and returns a Client.
func NewClient(apiKey, from, to string) (*Client, error) {
	if _, err := mail.ParseAddress(from); err != nil {
		return nil, fmt.Errorf("%w: invalid from address: %v", mgrerrors.Configuration, err)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("%w: invalid to address: %v", mgrerrors.Configuration, err)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		from:       from,
		to:         to,
	}, nil
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridEmail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Send mails subject/body as plain text to the configured recipient.
func (c *Client) Send(subject, body string) error {
	req := sendGridEmail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: c.to}}}},
		From:             sendGridAddress{Email: c.from},
		Subject:          subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: body}},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode mail: %v", mgrerrors.CollaboratorPermanent, err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build mail request: %v", mgrerrors.CollaboratorPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: sendgrid request: %v", mgrerrors.CollaboratorTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: sendgrid status %d", mgrerrors.CollaboratorTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: sendgrid status %d", mgrerrors.CollaboratorPermanent, resp.StatusCode)
	}
	return nil
}
