package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Flume API root used for OAuth requests.
const DefaultBaseURL = "https://api.flumetech.com"

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Credential is a bearer token pair plus the user id decoded from the
// access token's claims. The token file never stores the user id; it is
// re-derived on every load.
type Credential struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

// tokenFile is the on-disk shape of the token file. Access and refresh
// tokens are always written and read together.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// tokenRequest is the OAuth token request body for both the password and
// refresh_token grants.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// tokenResponse is the vendor's OAuth token response envelope.
type tokenResponse struct {
	HTTPCode int    `json:"http_code"`
	Message  string `json:"message"`
	Data     []struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"data"`
}

// Store owns the token file and the OAuth exchanges against the vendor.
type Store struct {
	Path       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewStore creates a credential store backed by the token file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Path:       path,
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}
}

// Obtain performs a password-grant token request and persists the resulting
// token pair to the token file.
func (s *Store) Obtain(ctx context.Context, clientID, clientSecret, username, password string) (*Credential, error) {
	s.Logger.Info("requesting auth token")
	return s.exchange(ctx, tokenRequest{
		GrantType:    "password",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     username,
		Password:     password,
	})
}

// Renew performs a refresh-grant token request and overwrites the token file
// with the new pair.
func (s *Store) Renew(ctx context.Context, clientID, clientSecret, refreshToken string) (*Credential, error) {
	s.Logger.Info("renewing auth token")
	return s.exchange(ctx, tokenRequest{
		GrantType:    "refresh_token",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
	})
}

// Load reads the token file and decodes the user id from the access token.
func (s *Store) Load() (*Credential, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("reading token file %s: %v", s.Path, err)}
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("parsing token file %s: %v", s.Path, err)}
	}
	if tf.AccessToken == "" || tf.RefreshToken == "" {
		return nil, &AuthError{Message: fmt.Sprintf("token file %s is missing a token", s.Path)}
	}

	userID, err := userIDFromToken(tf.AccessToken)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("decoding access token: %v", err)}
	}

	return &Credential{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		UserID:       userID,
	}, nil
}

// exchange posts a token request and persists the response on success.
func (s *Store) exchange(ctx context.Context, reqBody tokenRequest) (*Credential, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("token request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("reading token response: %v", err)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("parsing token response: %v", err)}
	}

	if tr.HTTPCode != http.StatusOK || len(tr.Data) == 0 {
		s.Logger.Error("token request rejected",
			zap.Int("http_code", tr.HTTPCode),
			zap.String("message", tr.Message))
		return nil, &AuthError{
			StatusCode: tr.HTTPCode,
			Message:    fmt.Sprintf("token request rejected (http_code %d): %s", tr.HTTPCode, tr.Message),
		}
	}

	cred := &Credential{
		AccessToken:  tr.Data[0].AccessToken,
		RefreshToken: tr.Data[0].RefreshToken,
	}
	cred.UserID, err = userIDFromToken(cred.AccessToken)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("decoding access token: %v", err)}
	}

	if err := s.persist(cred); err != nil {
		return nil, err
	}
	s.Logger.Info("saved token file", zap.String("path", s.Path), zap.String("user_id", cred.UserID))

	return cred, nil
}

// persist atomically rewrites the token file with both tokens.
func (s *Store) persist(cred *Credential) error {
	data, err := json.Marshal(tokenFile{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".flume-token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// userIDFromToken pulls user_id out of the access token claims. The token
// was just issued by the vendor over TLS, so the signature is not verified.
func userIDFromToken(accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	switch v := claims["user_id"].(type) {
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case string:
		return v, nil
	}
	return "", fmt.Errorf("token claims have no user_id")
}
