package twitch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
	"go.uber.org/zap"
)

const (
	// Client id of the regular Twitch web player.
	ClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"

	BaseURL       = "https://www.twitch.tv"
	defaultGQLURL = "https://gql.twitch.tv/gql"

	attemptTimeout = 20 * time.Second

	// The upstream retry loop had no ceiling and could never reach its
	// give-up branch. Ten transient failures in a row is treated as
	// exhaustion instead.
	defaultMaxAttempts = 10

	defaultBackoffBase = time.Second
	defaultBackoffMax  = time.Minute
)

// Credentials is everything needed to impersonate a logged-in web client.
// Cookies (a raw "k=v; k=v" string) win over AuthToken when both are set.
type Credentials struct {
	Username        string
	AuthToken       string
	Cookies         string
	Proxy           string
	DeviceID        string
	ClientIntegrity string
	ClientVersion   string
}

// Session owns the cookie/header context shared by every API call of one
// account and wraps each request with bounded retry and backoff.
type Session struct {
	client *http.Client
	creds  Credentials
	log    *zap.Logger

	gqlURL      string
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	// Resolved by Validate.
	UserID int64
	Login  string
}

func NewSession(creds Credentials, log *zap.Logger) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	siteURL, err := url.Parse(BaseURL)
	if err != nil {
		return nil, err
	}

	if creds.Cookies != "" {
		jar.SetCookies(siteURL, parseCookieString(creds.Cookies))
	} else if creds.AuthToken != "" {
		jar.SetCookies(siteURL, []*http.Cookie{{Name: "auth-token", Value: creds.AuthToken}})
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if creds.Proxy != "" {
		proxyURL, err := url.Parse(creds.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Session{
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   attemptTimeout,
		},
		creds:       creds,
		log:         log,
		gqlURL:      defaultGQLURL,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
	}, nil
}

func parseCookieString(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, item := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}

// AuthToken exposes the configured OAuth token, if any. The PubSub
// listener needs it for topic authorization.
func (s *Session) AuthToken() string {
	return s.creds.AuthToken
}

// Close releases idle connections. In-flight requests are owned by their
// callers and are cancelled through their contexts.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

func (s *Session) setHeaders(req *http.Request, extra http.Header) {
	req.Header.Set("User-Agent", userAgent)
	if s.creds.ClientIntegrity != "" {
		req.Header.Set("Client-Integrity", s.creds.ClientIntegrity)
	}
	if s.creds.ClientVersion != "" {
		req.Header.Set("Client-Version", s.creds.ClientVersion)
	}
	if s.creds.DeviceID != "" {
		req.Header.Set("X-Device-Id", s.creds.DeviceID)
	}

	if gqlURL, err := url.Parse(s.gqlURL); err == nil && req.URL.Host == gqlURL.Host {
		req.Header.Set("Client-Id", ClientID)
		if s.creds.AuthToken != "" {
			req.Header.Set("Authorization", "OAuth "+s.creds.AuthToken)
		}
	}

	for name, values := range extra {
		for _, value := range values {
			req.Header.Set(name, value)
		}
	}
}

// Do issues a request, retrying transient failures (network errors and
// 5xx responses) with exponential backoff. Every other status, 4xx
// included, is returned to the caller as-is; the caller owns the response
// body. After the retry ceiling the error wraps ErrRequestExhausted.
func (s *Session) Do(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*http.Response, error) {
	delays := newBackoff(s.backoffBase, s.backoffMax)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return nil, err
		}
		s.setHeaders(req, header)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			delay := delays.next()
			s.log.Warn("request failed",
				zap.String("url", rawURL),
				zap.Error(err),
				zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			drainAndClose(resp.Body)
			delay := delays.next()
			s.log.Warn("server error",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return nil, ctx.Err()
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrRequestExhausted)
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Validate resolves the account's numeric user id and login. With an auth
// token it goes through id.twitch.tv; an invalid or expired token is a
// hard failure. Cookie-only sessions fall back to the CurrentUser GQL
// operation.
func (s *Session) Validate(ctx context.Context) error {
	if s.creds.AuthToken != "" {
		return s.validateToken(ctx)
	}

	var data struct {
		CurrentUser struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"currentUser"`
	}
	if err := s.GQL(ctx, Op("CurrentUser"), &data); err != nil {
		return fmt.Errorf("resolving current user: %w", err)
	}

	userID, err := strconv.ParseInt(data.CurrentUser.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing user id %q: %w", data.CurrentUser.ID, err)
	}

	s.UserID = userID
	if s.Login == "" {
		s.Login = data.CurrentUser.Login
	}
	s.log.Info("session is valid", zap.Int64("user_id", s.UserID))
	return nil
}

func (s *Session) validateToken(ctx context.Context) error {
	client, err := helix.NewClientWithContext(ctx, &helix.Options{ClientID: ClientID})
	if err != nil {
		return fmt.Errorf("creating validation client: %w", err)
	}

	isValid, resp, err := client.ValidateToken(s.creds.AuthToken)
	if err != nil {
		return fmt.Errorf("validating token: %w", err)
	}
	if !isValid {
		return fmt.Errorf("auth token for %s is invalid or expired", s.creds.Username)
	}

	userID, err := strconv.ParseInt(resp.Data.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing user id %q: %w", resp.Data.UserID, err)
	}

	s.UserID = userID
	if s.Login == "" {
		s.Login = resp.Data.Login
	}
	s.log.Info("session is valid", zap.Int64("user_id", s.UserID))
	return nil
}
