package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/semmidev/dbkeeper/internal/domain"
)

const (
	AuthStartPath    = "/auth/google/drive"
	AuthCallbackPath = "/auth/google/callback"
)

// GoogleOAuthService runs the consent flow for the gdrive backend and writes
// the resulting token where the provider expects it.
type GoogleOAuthService struct {
	config    *oauth2.Config
	logger    domain.Logger
	tokenPath string
	state     string

	authServer *http.Server
	done       chan struct{}
	doneOnce   sync.Once
}

func NewGoogleOAuthService(logger domain.Logger, clientSecretPath, tokenPath string) (*GoogleOAuthService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}
	if tokenPath == "" {
		return nil, errors.New("token path cannot be empty")
	}

	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client_secret.json: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	return &GoogleOAuthService{
		config:    cfg,
		logger:    logger,
		tokenPath: tokenPath,
		state:     fmt.Sprintf("dbkeeper-%d", time.Now().UnixNano()),
		done:      make(chan struct{}),
	}, nil
}

// Done is closed once a token has been written.
func (s *GoogleOAuthService) Done() <-chan struct{} {
	return s.done
}

func (s *GoogleOAuthService) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+AuthStartPath, func(w http.ResponseWriter, r *http.Request) {
		authURL := s.config.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET "+AuthCallbackPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != s.state {
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "⚠️ No refresh token returned. Revoke app access & re-authorize.")
			return
		}

		if err := s.saveToken(token); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.logger.Infof("Google Drive token saved to %s", s.tokenPath)
		fmt.Fprintf(w, "✅ Token saved to %s. You can close this window.\n", s.tokenPath)
		s.doneOnce.Do(func() { close(s.done) })
	})

	return mux
}

func (s *GoogleOAuthService) saveToken(token *oauth2.Token) error {
	tokenJSON, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.tokenPath), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.tokenPath, tokenJSON, 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// StartAuthServer serves the consent flow on addr in the background. The
// client's redirect URL is pointed at the callback on addr.
func (s *GoogleOAuthService) StartAuthServer(_ context.Context, addr string) error {
	s.config.RedirectURL = "http://" + addr + AuthCallbackPath

	s.authServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Google Drive OAuth server listening on %s, open http://%s%s", addr, addr, AuthStartPath)
		if err := s.authServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("OAuth server error: %v", err)
		}
	}()

	return nil
}

func (s *GoogleOAuthService) Shutdown(ctx context.Context) error {
	if s.authServer == nil {
		return nil
	}

	if err := s.authServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	s.logger.Infof("OAuth server stopped successfully")
	return nil
}
