package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/danielgtaylor/huma/v2"
	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"anagami/internal/generation"
)

const (
	msgUnauthorized = "Невалиден достъп. Моля, презаредете страницата."
	msgRequired     = "Полето „Опишете вашето запитване“ е задължително."
	msgTooLong      = "Запитването е твърде дълго. Максимум %d символа."
	msgInvalidLead  = "Моля, въведете по-конкретно и валидно бизнес запитване."
	msgTemporary    = "Възникна временен проблем при генерирането. Моля, опитайте отново след малко."
	msgRateLimited  = "Прекалено много заявки от този IP адрес. Опитайте отново след около час."
	msgVerification = "Проверката за сигурност не бе успешна. Моля, презаредете страницата."
	msgNotFound     = "Ресурсът не е намерен."

	publicEndpoint     = "/public/generate"
	publicModule       = "offers"
	publicLanguage     = "bg"
	minLeadLength      = 20
	defaultMaxInput    = 4000
	defaultRatePerHour = 10

	defaultTurnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
)

// PublicConfig controls the unauthenticated lead intake endpoint.
type PublicConfig struct {
	SiteAPIKey  string
	MaxInput    int
	RatePerHour int
	Turnstile   Turnstile
}

var errTurnstileMissing = errors.New("missing turnstile token")

// Turnstile verifies Cloudflare Turnstile tokens. An empty Secret disables verification.
type Turnstile struct {
	Secret    string
	VerifyURL string
	Client    *http.Client
}

func (t Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(t.Secret) == "" {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return errTurnstileMissing
	}
	endpoint := t.VerifyURL
	if endpoint == "" {
		endpoint = defaultTurnstileURL
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	form := url.Values{"secret": {t.Secret}, "response": {token}, "remoteip": {remoteIP}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("turnstile request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("turnstile response: %w", err)
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return fmt.Errorf("turnstile verification failed: %s", gjson.GetBytes(body, "error-codes").Raw)
	}
	return nil
}

// ipLimiter keeps one token bucket per client IP. Idle buckets expire after an hour.
type ipLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	limit   rate.Limit
	burst   int
}

func newIPLimiter(perHour int) *ipLimiter {
	if perHour <= 0 {
		perHour = defaultRatePerHour
	}
	return &ipLimiter{
		buckets: cache.New(time.Hour, 10*time.Minute),
		limit:   rate.Every(time.Hour / time.Duration(perHour)),
		burst:   perHour,
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets.Get(ip); ok {
		return v.(*rate.Limiter).Allow()
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.Set(ip, lim, cache.DefaultExpiration)
	return lim.Allow()
}

func clientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func sanitizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var spamWords = regexp.MustCompile(`\b(bitcoin|casino|viagra|loan)\b`)

func isSpamLike(text string) bool {
	lower := strings.ToLower(text)
	if strings.Count(lower, "http://")+strings.Count(lower, "https://") > 3 {
		return true
	}
	if spamWords.MatchString(lower) {
		return true
	}
	return hasLetterRun(lower, 10)
}

// hasLetterRun reports whether a Latin or Cyrillic letter repeats n times in a row.
func hasLetterRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev && isRunLetter(r) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		prev, run = r, 1
	}
	return false
}

func isRunLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'а' && r <= 'я')
}

func registerPublic(api huma.API, cfg Config) {
	e := cfg.Engine
	limiter := newIPLimiter(cfg.Public.RatePerHour)
	maxInput := cfg.Public.MaxInput
	if maxInput <= 0 {
		maxInput = defaultMaxInput
	}
	module, _ := e.Catalog.Module(publicModule)

	huma.Register(api, huma.Operation{
		OperationID: "public-generate",
		Method:      http.MethodPost,
		Path:        publicEndpoint,
		Summary:     "Generate a sales proposal from a public lead form",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		SiteKey string                `header:"x-site-api-key"`
		Body    PublicGenerateRequest `json:"body"`
	}) (*bodyOutput[map[string]any], error) {
		ip := clientIP(requestFromContext(ctx))
		record := func(status int) {
			cfg.Usage.RecordRequest(ctx, ip, publicEndpoint, status)
			cfg.Metrics.RecordPublic(status)
		}
		reject := func(status int, msg string) error {
			record(status)
			return newAPIError(status, "", msg, nil)
		}

		if !limiter.Allow(ip) {
			return nil, reject(http.StatusTooManyRequests, msgRateLimited)
		}
		if cfg.Public.SiteAPIKey == "" || subtle.ConstantTimeCompare([]byte(input.SiteKey), []byte(cfg.Public.SiteAPIKey)) != 1 {
			return nil, reject(http.StatusUnauthorized, msgUnauthorized)
		}
		if err := cfg.Public.Turnstile.Verify(ctx, input.Body.TurnstileToken, ip); err != nil {
			cfg.Log.Warn("turnstile rejected public request", "ip", ip, "error", err)
			return nil, reject(http.StatusForbidden, msgVerification)
		}

		lead := sanitizeText(input.Body.LeadText)
		switch n := utf8.RuneCountInString(lead); {
		case n == 0:
			return nil, reject(http.StatusBadRequest, msgRequired)
		case n > maxInput:
			return nil, reject(http.StatusBadRequest, fmt.Sprintf(msgTooLong, maxInput))
		case n < minLeadLength || isSpamLike(lead):
			return nil, reject(http.StatusBadRequest, msgInvalidLead)
		}

		if e.Generator == nil {
			return nil, reject(http.StatusInternalServerError, msgTemporary)
		}
		out, err := e.Generator.Generate(ctx, generation.Input{
			Module:     publicModule,
			Language:   publicLanguage,
			InputText:  lead,
			Company:    sanitizeText(input.Body.CompanyName),
			Industry:   sanitizeText(input.Body.Industry),
			Budget:     sanitizeText(input.Body.ApproximateBudget),
			Timeline:   sanitizeText(input.Body.ExpectedTimeline),
			Endpoint:   publicEndpoint,
			Structured: true,
		})
		if err != nil {
			cfg.Log.Error("public generation failed", "ip", ip, "error", err)
			var me *generation.ModelError
			if errors.As(err, &me) {
				return nil, reject(http.StatusBadGateway, msgTemporary)
			}
			return nil, reject(http.StatusInternalServerError, msgTemporary)
		}

		body := make(map[string]any, len(module.Labels)+1)
		labels := make(map[string]string, len(module.Labels))
		for _, l := range module.Labels {
			body[l.JSONKey()] = out.Value(l.Key)
			labels[l.JSONKey()] = l.TitleFor(publicLanguage)
		}
		body["labels"] = labels
		record(http.StatusOK)
		return &bodyOutput[map[string]any]{Body: body}, nil
	})
}
