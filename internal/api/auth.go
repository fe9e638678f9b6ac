package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/liftlabs/liftlog-go/internal/tokenfile"
)

// expirySkew refreshes tokens slightly before their stated expiry so a
// request never leaves with a token that dies in flight.
const expirySkew = 30 * time.Second

// tokenResponse is the body of the /auth/login and /auth/refresh endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// FileTokenSource implements TokenSource over the backend's auth endpoints,
// persisting refreshed tokens via tokenfile. Safe for concurrent use.
type FileTokenSource struct {
	mu         sync.Mutex
	baseURL    string
	httpClient *http.Client
	path       string
	tok        *oauth2.Token
	email      string
	logger     *slog.Logger
}

// Login authenticates with email and password, saves the resulting token
// pair to tokenPath, and returns a ready TokenSource.
func Login(ctx context.Context, baseURL string, httpClient *http.Client, email, password, tokenPath string, logger *slog.Logger) (*FileTokenSource, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("api: encoding login request: %w", err)
	}

	tr, err := postToken(ctx, httpClient, baseURL+"/auth/login", body)
	if err != nil {
		return nil, err
	}

	src := &FileTokenSource{
		baseURL:    baseURL,
		httpClient: httpClient,
		path:       tokenPath,
		tok:        tr.oauthToken(),
		email:      email,
		logger:     logger,
	}

	if err := tokenfile.Save(tokenPath, src.tok, email); err != nil {
		return nil, fmt.Errorf("api: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("email", email),
		slog.Time("expiry", src.tok.Expiry),
	)

	return src, nil
}

// TokenSourceFromPath loads saved credentials from tokenPath and returns a
// TokenSource with silent refresh and persistence. Returns ErrNotLoggedIn
// if no credential file exists.
func TokenSourceFromPath(baseURL string, httpClient *http.Client, tokenPath string, logger *slog.Logger) (*FileTokenSource, error) {
	tok, email, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	logger.Debug("loaded saved credentials",
		slog.String("email", email),
		slog.Time("expiry", tok.Expiry),
	)

	return &FileTokenSource{
		baseURL:    baseURL,
		httpClient: httpClient,
		path:       tokenPath,
		tok:        tok,
		email:      email,
		logger:     logger,
	}, nil
}

// Email returns the account email cached alongside the token.
func (s *FileTokenSource) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.email
}

// Token returns the current access token, refreshing first if it is at or
// past expiry.
func (s *FileTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok.Expiry.IsZero() || time.Now().Add(expirySkew).Before(s.tok.Expiry) {
		return s.tok.AccessToken, nil
	}

	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}

	return s.tok.AccessToken, nil
}

// Refresh forces a token refresh regardless of expiry. Called by Client
// after a 401 — the server may have revoked the token early.
func (s *FileTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}

	return s.tok.AccessToken, nil
}

// refreshLocked exchanges the refresh token for a new pair and persists it.
// Caller must hold s.mu.
func (s *FileTokenSource) refreshLocked(ctx context.Context) error {
	if s.tok.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	body, err := json.Marshal(map[string]string{"refresh_token": s.tok.RefreshToken})
	if err != nil {
		return fmt.Errorf("api: encoding refresh request: %w", err)
	}

	tr, err := postToken(ctx, s.httpClient, s.baseURL+"/auth/refresh", body)
	if err != nil {
		return err
	}

	s.tok = tr.oauthToken()

	if saveErr := tokenfile.Save(s.path, s.tok, s.email); saveErr != nil {
		// Keep going with the in-memory token; persistence failure only
		// costs a re-login after restart.
		s.logger.Warn("failed to persist refreshed token",
			slog.String("error", saveErr.Error()),
		)
	}

	s.logger.Debug("token refreshed", slog.Time("expiry", s.tok.Expiry))

	return nil
}

// postToken posts a JSON body to an auth endpoint and decodes the token
// response. Auth endpoints carry no bearer header, so this bypasses Client.
func postToken(ctx context.Context, httpClient *http.Client, url string, body []byte) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api: creating auth request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("api: decoding auth response: %w", err)
	}

	return &tr, nil
}

// oauthToken converts a wire token response to the storage type.
func (tr *tokenResponse) oauthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
}
