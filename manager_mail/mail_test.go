package manager_mail

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendPostsExpectedPayload(t *testing.T) {
	var got sendGridEmail
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient("secret", "from@example.com", "to@example.com")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	origURL := sendURL
	sendURL = srv.URL
	defer func() { sendURL = origURL }()

	if err := c.Send("schedule failed", "retrying"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if got.Subject != "schedule failed" {
		t.Fatalf("unexpected subject: %q", got.Subject)
	}
	if len(got.Content) != 1 || got.Content[0].Value != "retrying" {
		t.Fatalf("unexpected content: %+v", got.Content)
	}
}

func TestNewClientRejectsInvalidAddress(t *testing.T) {
	if _, err := NewClient("secret", "not-an-address", "to@example.com"); err == nil {
		t.Fatalf("expected an error for an invalid from address")
	}
}
