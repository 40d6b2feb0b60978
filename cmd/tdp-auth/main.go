// Command tdp-auth runs the one-time authorization-code handshake with
// PKCE and persists the resulting token session for the poller to use.
package main

import (
	"context"
	cryptoRand "crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"

	"golang.org/x/oauth2"

	"github.com/sondrele/tibber-data-poller/internal/auth"
	"github.com/sondrele/tibber-data-poller/internal/logging"
	"github.com/sondrele/tibber-data-poller/pkg/config"
)

var defaultScopes = []string{
	"openid",
	"offline_access",
	"data-api-user-read",
	"data-api-homes-read",
}

func main() {
	var (
		configFile  = flag.String("config", "config.yaml", "Path to configuration file")
		redirectURI = flag.String("redirect-uri", "http://127.0.0.1:8912/callback", "Redirect URI for the authorization code flow")
		noOpen      = flag.Bool("no-open", false, "Do not open the browser automatically")
		timeout     = flag.Duration("timeout", 5*time.Minute, "How long to wait for authorization")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fatal(fmt.Errorf("loading configuration: %w", err))
	}
	logger := logging.Init(cfg.Logging.Level, "console")

	scopes := cfg.OAuth.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	oauthClient, err := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID:     cfg.OAuth.ClientID,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
	}, logger)
	if err != nil {
		fatal(err)
	}

	parsedRedirect, err := url.Parse(*redirectURI)
	if err != nil || parsedRedirect.Host == "" {
		fatal(fmt.Errorf("invalid redirect-uri: %q", *redirectURI))
	}

	state, err := randomState(16)
	if err != nil {
		fatal(err)
	}
	verifier := oauth2.GenerateVerifier()

	authURL, err := oauthClient.AuthorizeURL(*redirectURI, state, verifier, scopes)
	if err != nil {
		fatal(err)
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{
		Addr:    parsedRedirect.Host,
		Handler: callbackHandler(state, codeCh, errCh),
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	defer func() {
		_ = srv.Close()
	}()

	fmt.Println("Open this URL to authorize access to your homes:")
	fmt.Println(authURL)
	fmt.Println("")
	fmt.Printf("Redirect URI: %s\n", *redirectURI)
	fmt.Println("Make sure this redirect URI is registered for your OAuth app.")

	if !*noOpen {
		_ = openBrowser(authURL)
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		fatal(err)
	case <-time.After(*timeout):
		fatal(errors.New("timed out waiting for authorization"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := oauthClient.ExchangeCode(ctx, code, *redirectURI, verifier)
	if err != nil {
		fatal(fmt.Errorf("exchanging authorization code: %w", err))
	}
	if session.RefreshToken == "" {
		fatal(errors.New("no refresh_token returned; check that offline_access is in the requested scopes"))
	}

	blobs, err := auth.NewSQLiteBlobStore(cfg.Storage.TokenDB)
	if err != nil {
		fatal(err)
	}
	defer func() {
		_ = blobs.Close()
	}()

	if err := blobs.Save(session); err != nil {
		fatal(fmt.Errorf("persisting token session: %w", err))
	}

	fmt.Printf("Token session saved to %s\n", cfg.Storage.TokenDB)
	fmt.Println("You can now start tdp.")
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errStr := query.Get("error"); errStr != "" {
			errCh <- fmt.Errorf("authorization error: %s", errStr)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("Authorization failed. You can close this window."))
			return
		}
		if query.Get("state") != state {
			errCh <- errors.New("state mismatch")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("State mismatch. You can close this window."))
			return
		}
		code := query.Get("code")
		if code == "" {
			errCh <- errors.New("missing code in callback")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("Missing authorization code. You can close this window."))
			return
		}
		codeCh <- code
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Authorization received. You can close this window."))
	})
}

func randomState(length int) (string, error) {
	b := make([]byte, length)
	if _, err := cryptoRand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}

func openBrowser(target string) error {
	if _, err := os.Stat("/usr/bin/xdg-open"); err == nil {
		return exec.Command("xdg-open", target).Run()
	}
	if _, err := os.Stat("/usr/bin/open"); err == nil {
		return exec.Command("open", target).Run()
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
