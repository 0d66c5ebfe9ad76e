// Package youtubeapi builds an authenticated YouTube Data API client for
// reading live chat. An API key is enough for public broadcasts; an OAuth2
// refresh token is used when configured so members-only chats are readable.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatcaster/config"
)

// ReadOnlyScope is the only scope live chat reading needs.
const ReadOnlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// ErrNoCredentials is returned when neither an API key nor a refresh token is
// configured.
var ErrNoCredentials = errors.New("no youtube credentials configured")

type Service struct {
	apiKey       string
	refreshToken string
	oauth        *oauth2.Config
}

func New(cfg *config.Config) *Service {
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{ReadOnlyScope},
	}
	return &Service{apiKey: cfg.YTAPIKey, refreshToken: cfg.YTRefreshToken, oauth: oauth}
}

// UsesOAuth reports whether clients authenticate with the refresh token.
func (s *Service) UsesOAuth() bool {
	return s.refreshToken != "" && s.oauth.ClientID != ""
}

// TokenSource returns a refreshing token source seeded with the configured
// refresh token.
func (s *Service) TokenSource(ctx context.Context) oauth2.TokenSource {
	return s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken})
}

// Client returns a YouTube service. extra options are appended after the
// credential option, so tests can override the endpoint or transport.
func (s *Service) Client(ctx context.Context, extra ...option.ClientOption) (*yt.Service, error) {
	var opts []option.ClientOption
	switch {
	case s.UsesOAuth():
		opts = append(opts, option.WithTokenSource(s.TokenSource(ctx)))
	case s.apiKey != "":
		opts = append(opts, option.WithAPIKey(s.apiKey))
	default:
		return nil, ErrNoCredentials
	}
	opts = append(opts, extra...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return svc, nil
}

// NewWithHTTPClient returns a service that sends every request through hc and
// skips authentication. Used for tests and for pre-authenticated clients.
func NewWithHTTPClient(ctx context.Context, hc *http.Client) (*yt.Service, error) {
	return yt.NewService(ctx, option.WithHTTPClient(hc))
}
