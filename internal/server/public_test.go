package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const goodLead = "Dental clinic in Sofia needs a website with online booking and SEO."

func publicHeaders() map[string]string {
	return map[string]string{"X-Site-Api-Key": testSiteKey}
}

func publicError(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, string(data))
	}
	return env.Error.Message
}

func TestPublicGenerateRejections(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/api/public/generate"

	res, data := doJSON(t, client, http.MethodPost, url, map[string]any{"leadText": goodLead}, map[string]string{"X-Site-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized || publicError(t, data) != msgUnauthorized {
		t.Fatalf("wrong key: %d %s", res.StatusCode, string(data))
	}

	cases := []struct {
		name string
		lead string
		msg  string
	}{
		{"blank", "   \n\t ", msgRequired},
		{"short", "need a site", msgInvalidLead},
		{"spam words", "Cheap casino bonus for your business, contact us today", msgInvalidLead},
		{"letter run", "Hellooooooooooooo we need a website for the clinic", msgInvalidLead},
		{"too long", strings.Repeat("website ", 600), "Максимум 4000 символа."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, http.MethodPost, url, map[string]any{"leadText": tc.lead}, publicHeaders())
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status %d: %s", res.StatusCode, string(data))
			}
			if msg := publicError(t, data); !strings.Contains(msg, tc.msg) {
				t.Fatalf("message %q, want %q", msg, tc.msg)
			}
		})
	}
	if srv.Model.calls != 0 {
		t.Fatalf("rejected requests must not reach the model, got %d calls", srv.Model.calls)
	}

	logs, err := srv.Engine.Repo.ListRequestLogs(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != len(cases)+1 {
		t.Fatalf("expected %d request logs, got %d", len(cases)+1, len(logs))
	}
	statuses := map[int]int{}
	for _, l := range logs {
		if l.Endpoint != publicEndpoint {
			t.Fatalf("unexpected endpoint %q", l.Endpoint)
		}
		statuses[l.StatusCode]++
	}
	if statuses[http.StatusUnauthorized] != 1 || statuses[http.StatusBadRequest] != len(cases) {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestPublicGenerateSuccess(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/public/generate", map[string]any{
		"leadText":     "  Dental clinic in Sofia\n needs a website   with online booking  ",
		"company_name": "Smile",
	}, publicHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"analysis", "service", "pricing", "proposalDraft", "emailDraft", "upsell", "labels"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing key %s in %s", key, string(data))
		}
	}
	labels, _ := body["labels"].(map[string]any)
	if labels["proposalDraft"] != "Чернова на оферта" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if !strings.Contains(body["pricing"].(string), "1200 EUR") {
		t.Fatalf("unexpected pricing %v", body["pricing"])
	}
	if !strings.Contains(srv.Model.last.User, "Dental clinic in Sofia needs a website with online booking") {
		t.Fatalf("lead not sanitized before prompting: %q", srv.Model.last.User)
	}
	entries, err := srv.Engine.Repo.ListUsage(context.Background(), 10)
	if err != nil || len(entries) != 1 || entries[0].Endpoint != publicEndpoint {
		t.Fatalf("expected one public usage entry, got %+v (%v)", entries, err)
	}
}

func TestPublicGenerateModelFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.Model.set("", errors.New("upstream down"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/public/generate", map[string]any{"leadText": goodLead}, publicHeaders())
	if res.StatusCode != http.StatusBadGateway || publicError(t, data) != msgTemporary {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if strings.Contains(string(data), "upstream down") {
		t.Fatalf("internal error leaked: %s", string(data))
	}
}

func TestPublicGenerateRateLimit(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.Public.RatePerHour = 3 })
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/public/generate", map[string]any{"leadText": "short"}, publicHeaders())
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("request %d: status %d: %s", i, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/public/generate", map[string]any{"leadText": goodLead}, publicHeaders())
	if res.StatusCode != http.StatusTooManyRequests || publicError(t, data) != msgRateLimited {
		t.Fatalf("expected rate limit, got %d: %s", res.StatusCode, string(data))
	}
	other := publicHeaders()
	other["X-Forwarded-For"] = "203.0.113.9"
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/public/generate", map[string]any{"leadText": goodLead}, other)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("other ip should pass, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPublicGenerateTurnstile(t *testing.T) {
	var gotSecret, gotResponse string
	verifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotSecret, gotResponse = r.PostForm.Get("secret"), r.PostForm.Get("response")
		w.Header().Set("Content-Type", "application/json")
		if gotResponse == "good-token" {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer verifier.Close()

	srv, cleanup := newTestServer(t, func(c *Config) {
		c.Public.Turnstile = Turnstile{Secret: "ts-secret", VerifyURL: verifier.URL}
	})
	defer cleanup()
	url := srv.URL + "/api/public/generate"

	res, data := doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"leadText": goodLead}, publicHeaders())
	if res.StatusCode != http.StatusForbidden || publicError(t, data) != msgVerification {
		t.Fatalf("missing token: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"leadText": goodLead, "turnstileToken": "bad"}, publicHeaders())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("bad token: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, url, map[string]any{"leadText": goodLead, "turnstileToken": "good-token"}, publicHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("good token: %d %s", res.StatusCode, string(data))
	}
	if gotSecret != "ts-secret" {
		t.Fatalf("secret not forwarded: %q", gotSecret)
	}
}

func TestIsSpamLike(t *testing.T) {
	cases := map[string]bool{
		"We need a new website for our dental clinic":                     false,
		"Търсим нов уебсайт за нашата клиника в София":                    false,
		"visit http://a.com http://b.com https://c.com http://d.com now":  true,
		"two links http://a.com and https://b.com are fine for a request": false,
		"Best LOAN offers here for your company":                          true,
		"loans are fine as part of a word":                                false,
		"ааааааааааааа нужен сайт":                                        true,
		"zzzzzzzzz nine letters is below the threshold":                   false,
		"1111111111111 digits do not count as a letter run":               false,
	}
	for text, want := range cases {
		if got := isSpamLike(text); got != want {
			t.Errorf("isSpamLike(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.5:5555"
	if got := clientIP(r); got != "10.0.0.5" {
		t.Fatalf("remote addr: %q", got)
	}
	r.Header.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.1")
	if got := clientIP(r); got != "198.51.100.7" {
		t.Fatalf("forwarded: %q", got)
	}
	if got := clientIP(nil); got != "unknown" {
		t.Fatalf("nil request: %q", got)
	}
}

func TestSanitizeText(t *testing.T) {
	if got := sanitizeText("  a\n\tb   c  "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
}
