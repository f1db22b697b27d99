package rointe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend selects which cloud API the client should authenticate against.
type Backend string

const (
	// BackendAuto tries the legacy API first and falls back to Nexa.
	BackendAuto Backend = "auto"
	// BackendRointe forces the legacy Rointe Connect API.
	BackendRointe Backend = "rointe"
	// BackendNexa forces the Nexa API.
	BackendNexa Backend = "nexa"
)

// authManager owns the session lifecycle: initial login against either
// backend, token expiry tracking and silent refresh. Credentials are
// discarded as soon as the first login succeeds.
type authManager struct {
	httpClient *http.Client
	eps        *endpoints
	log        *zap.SugaredLogger

	mu        sync.Mutex
	username  string
	password  string
	requested Backend

	token            string
	refreshToken     string
	expiry           time.Time
	localID          string
	nexaToken        string
	nexaRefreshToken string
	baseURL          string
	wsURL            string
	appKey           string
	useNexa          bool

	inflight chan struct{}
}

func newAuthManager(username, password string, backend Backend, hc *http.Client, eps *endpoints, log *zap.SugaredLogger) *authManager {
	if backend == "" {
		backend = BackendAuto
	}
	return &authManager{
		httpClient: hc,
		eps:        eps,
		log:        log,
		username:   username,
		password:   password,
		requested:  backend,
		baseURL:    eps.legacyBase,
		appKey:     eps.legacyKey,
	}
}

// Login performs the initial authentication. With BackendAuto a failed
// legacy login retries through the Nexa flow before reporting failure.
func (a *authManager) Login(ctx context.Context) error {
	a.mu.Lock()
	username, password, requested := a.username, a.password, a.requested
	a.mu.Unlock()

	if username == "" || password == "" {
		return AuthError{Reason: "credentials already consumed"}
	}

	var err error
	if requested == BackendNexa {
		err = a.loginNexa(ctx, username, password)
	} else {
		err = a.loginLegacy(ctx, username, password)
		if statusErr, ok := err.(HTTPStatusError); ok && requested == BackendAuto {
			a.log.Debugw("legacy auth failed, attempting nexa login", "status", statusErr.Status)
			if nexaErr := a.loginNexa(ctx, username, password); nexaErr == nil {
				err = nil
			}
		}
	}

	if err != nil {
		a.log.Errorw("authentication failed", "err", err)
		return err
	}

	// Credentials are write-once: null them after the first success.
	a.mu.Lock()
	a.username = ""
	a.password = ""
	a.mu.Unlock()

	a.log.Debugw("authentication complete", "nexa", a.UseNexa(), "base_url", a.BaseURL())
	return nil
}

func (a *authManager) loginLegacy(ctx context.Context, username, password string) error {
	form := url.Values{
		"email":             {username},
		"password":          {password},
		"returnSecureToken": {"true"},
	}

	loginURL := fmt.Sprintf("%s%s?key=%s", a.eps.authHost, authVerifyPath, a.eps.legacyKey)
	body, status, err := a.postForm(ctx, loginURL, form)
	if err != nil {
		return fmt.Errorf("legacy login: %w", err)
	}
	if status != http.StatusOK {
		return HTTPStatusError{Op: "login", Status: status, Body: string(body)}
	}

	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil || res["idToken"] == nil {
		return AuthError{Reason: "login returned invalid or empty response"}
	}

	expiresIn := intField(res, "expiresIn", 3600)

	a.mu.Lock()
	a.token = stringField(res, "idToken", "")
	a.refreshToken = stringField(res, "refreshToken", "")
	a.expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	a.localID = stringField(res, "localId", "")
	a.baseURL = a.eps.legacyBase
	a.appKey = a.eps.legacyKey
	a.wsURL = ""
	a.useNexa = false
	a.mu.Unlock()

	return nil
}

// loginNexa logs in against the Nexa REST API, then federates into the Nexa
// Firebase project using a synthesized identity derived from the user id.
func (a *authManager) loginNexa(ctx context.Context, username, password string) error {
	loginBody := map[string]any{
		"email":    username,
		"password": password,
		"push":     "",
		"migrate":  false,
	}

	body, status, err := a.postJSON(ctx, a.eps.nexaAPI+nexaLoginPath, loginBody)
	if err != nil {
		return fmt.Errorf("nexa login: %w", err)
	}
	if status != http.StatusOK {
		return HTTPStatusError{Op: "nexa login", Status: status, Body: string(body)}
	}

	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil {
		return AuthError{Reason: "invalid nexa login response"}
	}

	data, _ := res["data"].(map[string]any)
	if data == nil {
		return AuthError{Reason: "invalid nexa login response"}
	}
	user, _ := data["user"].(map[string]any)
	userID := stringField(user, "id", "")
	if userID == "" {
		return AuthError{Reason: "nexa login response missing user id"}
	}

	nexaToken, nexaRefresh := extractNexaTokens(data)

	fedBody := map[string]any{
		"returnSecureToken": true,
		"email":             userID + "@rointe.com",
		"password":          userID,
		"clientType":        "CLIENT_TYPE_WEB",
	}

	fedURL := fmt.Sprintf("%s?key=%s", a.eps.nexaAuthURL, a.eps.nexaKey)
	body, status, err = a.postJSON(ctx, fedURL, fedBody)
	if err != nil {
		return fmt.Errorf("nexa firebase auth: %w", err)
	}
	if status != http.StatusOK {
		return HTTPStatusError{Op: "nexa firebase auth", Status: status, Body: string(body)}
	}

	var fed map[string]any
	if err := json.Unmarshal(body, &fed); err != nil || fed["idToken"] == nil {
		return AuthError{Reason: "nexa firebase auth returned no token"}
	}

	expiresIn := intField(fed, "expiresIn", 3600)

	a.mu.Lock()
	a.token = stringField(fed, "idToken", "")
	a.refreshToken = stringField(fed, "refreshToken", "")
	a.expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	a.localID = stringField(fed, "localId", "")
	a.nexaToken = nexaToken
	a.nexaRefreshToken = nexaRefresh
	a.baseURL = a.eps.nexaBase
	a.appKey = a.eps.nexaKey
	a.wsURL = a.eps.nexaWS
	a.useNexa = true
	a.mu.Unlock()

	return nil
}

// extractNexaTokens digs the vendor access/refresh tokens out of the login
// payload, which has shipped several shapes over time.
func extractNexaTokens(data map[string]any) (token, refresh string) {
	switch block := data["token"].(type) {
	case map[string]any:
		token = stringField(block, "accessToken", "")
		if token == "" {
			token = stringField(block, "access_token", "")
		}
	case string:
		token = block
	}
	refresh = stringField(data, "refreshToken", "")
	return token, refresh
}

// EnsureValid guarantees a usable token before an authenticated operation,
// refreshing it when expired. Concurrent callers racing on an expired token
// coalesce onto a single in-flight refresh.
func (a *authManager) EnsureValid(ctx context.Context) error {
	for {
		a.mu.Lock()
		if a.token != "" && (a.expiry.IsZero() || time.Now().Before(a.expiry)) {
			a.mu.Unlock()
			return nil
		}
		if a.refreshToken == "" {
			a.mu.Unlock()
			return AuthError{Reason: "not logged in"}
		}

		if a.inflight == nil {
			done := make(chan struct{})
			a.inflight = done
			a.mu.Unlock()

			err := a.refresh(ctx)

			a.mu.Lock()
			a.inflight = nil
			a.mu.Unlock()
			close(done)
			return err
		}

		wait := a.inflight
		a.mu.Unlock()

		select {
		case <-wait:
			// Re-check the session and refresh ourselves if it is still stale.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *authManager) refresh(ctx context.Context) error {
	a.mu.Lock()
	refreshToken, appKey := a.refreshToken, a.appKey
	a.mu.Unlock()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	refreshURL := fmt.Sprintf("%s?key=%s", a.eps.refreshURL, appKey)
	body, status, err := a.postForm(ctx, refreshURL, form)
	if err != nil {
		return authErrf(err, "token refresh failed")
	}
	if status != http.StatusOK {
		return AuthError{Reason: fmt.Sprintf("token refresh returned %d", status)}
	}

	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil || res["id_token"] == nil {
		return AuthError{Reason: "token refresh returned no token"}
	}

	expiresIn := intField(res, "expires_in", 3600)

	a.mu.Lock()
	a.token = stringField(res, "id_token", "")
	a.refreshToken = stringField(res, "refresh_token", refreshToken)
	a.expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	a.mu.Unlock()

	a.log.Debugw("auth token refreshed", "expires_in", expiresIn)
	return nil
}

// Logout drops the session. Subsequent authenticated calls fail until a new
// client is constructed; credentials are not retained for re-login.
func (a *authManager) Logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.refreshToken = ""
	a.expiry = time.Time{}
	a.nexaToken = ""
	a.nexaRefreshToken = ""
}

func (a *authManager) LoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != "" && a.refreshToken != ""
}

func (a *authManager) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *authManager) LocalID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localID
}

func (a *authManager) UseNexa() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.useNexa
}

func (a *authManager) BaseURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseURL
}

func (a *authManager) WSURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wsURL
}

// NexaTokens returns the candidate tokens for Nexa REST calls in preference
// order: vendor token, vendor refresh token, Firebase token.
func (a *authManager) NexaTokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var tokens []string
	if a.nexaToken != "" {
		tokens = append(tokens, a.nexaToken)
	}
	if a.nexaRefreshToken != "" {
		tokens = append(tokens, a.nexaRefreshToken)
	}
	if a.token != "" {
		tokens = append(tokens, a.token)
	}
	return tokens
}

func (a *authManager) postForm(ctx context.Context, rawURL string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req)
}

func (a *authManager) postJSON(ctx context.Context, rawURL string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return a.do(req)
}

func (a *authManager) do(req *http.Request) ([]byte, int, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
