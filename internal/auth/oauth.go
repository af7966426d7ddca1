package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// oauthFlow drives one PKCE authorization-code exchange: a local callback
// server for the interactive case, or a manual paste-the-code fallback for
// headless hosts.
type oauthFlow struct {
	config       *oauth2.Config
	listener     net.Listener
	state        string
	codeVerifier string
	codeChan     chan string
	errChan      chan error
}

func newOAuthFlow(config *oauth2.Config, listener net.Listener, redirectURL string) (*oauthFlow, error) {
	if config == nil {
		return nil, fmt.Errorf("OAuth2 config not set")
	}
	state, err := randomToken(32, base64.URLEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier, err := randomToken(32, base64.RawURLEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	cfg := *config
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL not set")
	}

	return &oauthFlow{
		config:       &cfg,
		listener:     listener,
		state:        state,
		codeVerifier: verifier,
		codeChan:     make(chan string, 1),
		errChan:      make(chan error, 1),
	}, nil
}

func (f *oauthFlow) authURL() string {
	return f.config.AuthCodeURL(
		f.state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallengeS256(f.codeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (f *oauthFlow) startCallbackServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", f.handleCallback)

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(f.listener); err != http.ErrServerClosed {
			f.errChan <- err
		}
	}()
	go func() {
		<-ctx.Done()
		server.Close()
	}()
}

func (f *oauthFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("state") != f.state {
		f.errChan <- fmt.Errorf("invalid state parameter")
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		f.errChan <- fmt.Errorf("authorization error: %s", r.URL.Query().Get("error"))
		http.Error(w, "no code received", http.StatusBadRequest)
		return
	}
	f.codeChan <- code
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><body><h1>Authentication successful</h1><p>You can close this window.</p></body></html>`)
}

func (f *oauthFlow) waitForCode(timeout time.Duration) (string, error) {
	select {
	case code := <-f.codeChan:
		return code, nil
	case err := <-f.errChan:
		return "", err
	case <-time.After(timeout):
		return "", fmt.Errorf("authentication timed out")
	}
}

func (f *oauthFlow) exchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return f.config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", f.codeVerifier))
}

func (f *oauthFlow) close() {
	if f.listener != nil {
		f.listener.Close()
	}
}

func randomToken(n int, enc *base64.Encoding) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return enc.EncodeToString(b), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newLoopbackFlow(config *oauth2.Config) (*oauthFlow, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start local callback server: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	return newOAuthFlow(config, listener, fmt.Sprintf("http://127.0.0.1:%d/callback", port))
}

func newManualFlow(config *oauth2.Config) (*oauthFlow, error) {
	return newOAuthFlow(config, nil, "http://127.0.0.1:8765/callback")
}

func isHeadlessEnv() bool {
	if os.Getenv("DAVSYNC_NO_BROWSER") != "" {
		return true
	}
	if os.Getenv("CI") != "" {
		return true
	}
	if runtime.GOOS != "windows" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return true
	}
	if os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "" {
		return true
	}
	return false
}

// OAuthCredentialSource answers AuthorizationHeader with a Bearer token for
// WebDAV deployments fronted by OAuth2 rather than HTTP Basic. The initial
// token is acquired interactively (browser loopback, or manual paste on a
// headless host); subsequent calls refresh transparently via
// oauth2.TokenSource and persist the refreshed token through store.
type OAuthCredentialSource struct {
	accountID  string
	store      *Store
	config     *oauth2.Config
	source     oauth2.TokenSource
	openBrowser func(url string) error
}

// NewOAuthCredentialSource builds a bearer CredentialSource for accountID,
// loading a previously stored refresh token if one exists.
func NewOAuthCredentialSource(accountID string, config *oauth2.Config, store *Store, openBrowser func(string) error) (*OAuthCredentialSource, error) {
	s := &OAuthCredentialSource{
		accountID:   accountID,
		store:       store,
		config:      config,
		openBrowser: openBrowser,
	}
	if creds, err := store.Load(accountID); err == nil && creds.Bearer != "" {
		token := &oauth2.Token{RefreshToken: creds.Bearer}
		s.source = config.TokenSource(context.Background(), token)
	}
	return s, nil
}

// Invalidate drops the cached token source, forcing the next
// AuthorizationHeader call to re-authenticate from scratch. The Transfer
// Layer calls this after an authenticationRequired failure, the same as it
// does for BasicCredentialSource.
func (s *OAuthCredentialSource) Invalidate() {
	s.source = nil
}

func (s *OAuthCredentialSource) AuthorizationHeader(ctx context.Context) (string, error) {
	if s.source == nil {
		if err := s.authenticate(ctx); err != nil {
			return "", err
		}
	}
	token, err := s.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain OAuth2 token: %w", err)
	}
	return "Bearer " + token.AccessToken, nil
}

// authenticate runs the interactive PKCE flow once, then persists the
// resulting refresh token so future sessions skip the browser round-trip.
func (s *OAuthCredentialSource) authenticate(ctx context.Context) error {
	manual := isHeadlessEnv()

	var flow *oauthFlow
	var err error
	if !manual {
		flow, err = newLoopbackFlow(s.config)
		if err != nil {
			manual = true
		}
	}

	var token *oauth2.Token
	if manual {
		flow, err = newManualFlow(s.config)
		if err != nil {
			return err
		}
		authURL := flow.authURL()
		fmt.Printf("Open this URL in a browser and approve access:\n%s\n", authURL)
		fmt.Printf("Paste the authorization code from the redirected URL: ")
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		token, err = flow.exchangeCode(ctx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
	} else {
		defer flow.close()
		flow.startCallbackServer(ctx)
		authURL := flow.authURL()
		if s.openBrowser != nil {
			if err := s.openBrowser(authURL); err != nil {
				fmt.Printf("Failed to open browser automatically; visit: %s\n", authURL)
			}
		} else {
			fmt.Printf("Visit this URL to authenticate: %s\n", authURL)
		}
		code, err := flow.waitForCode(5 * time.Minute)
		if err != nil {
			return err
		}
		token, err = flow.exchangeCode(ctx, code)
		if err != nil {
			return err
		}
	}

	if err := s.store.Save(s.accountID, Credentials{Bearer: token.RefreshToken}); err != nil {
		return fmt.Errorf("failed to persist OAuth2 refresh token: %w", err)
	}
	s.source = s.config.TokenSource(ctx, token)
	return nil
}
