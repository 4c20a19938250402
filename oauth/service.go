// Package oauth runs the authorization-code flow against configured
// providers and hands out valid access tokens to the data sources.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seo-optimizer/competitive-insights/config"
	"github.com/seo-optimizer/competitive-insights/sources"
	"github.com/seo-optimizer/competitive-insights/store"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrUnknownState    = errors.New("unknown or expired oauth state")
	ErrNotConnected    = errors.New("account not connected")
)

// TokenStore is the part of store.Store the service needs
type TokenStore interface {
	GetToken(ctx context.Context, email, provider string) (*store.Token, error)
	PutToken(ctx context.Context, token *store.Token) error
	DeleteToken(ctx context.Context, email, provider string) error
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Service connects user accounts to providers and keeps their tokens fresh.
// It satisfies sources.TokenSource.
type Service struct {
	providers map[string]config.ProviderConfig
	states    *StateRegistry
	tokens    TokenStore
	client    *http.Client
	refreshes singleflight.Group
	now       func() time.Time
}

func NewService(providers map[string]config.ProviderConfig, states *StateRegistry, tokens TokenStore, timeout time.Duration) *Service {
	return &Service{
		providers: providers,
		states:    states,
		tokens:    tokens,
		client:    sources.NewHTTPClient(timeout),
		now:       time.Now,
	}
}

func (s *Service) provider(name string) (config.ProviderConfig, error) {
	p, ok := s.providers[name]
	if !ok || p.ClientID == "" {
		return config.ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// AuthURL registers a pending request and returns the provider consent URL
func (s *Service) AuthURL(email, provider string) (string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth url for %s: %w", provider, err)
	}

	q := u.Query()
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(p.Scopes, " "))
	q.Set("state", s.states.Put(email, provider))
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Exchange completes the flow started by AuthURL and stores the tokens
func (s *Service) Exchange(ctx context.Context, provider, state, code string) (*store.Token, error) {
	pending, ok := s.states.Take(state)
	if !ok || pending.Provider != provider {
		return nil, ErrUnknownState
	}
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}

	resp, err := s.requestToken(ctx, p, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {p.RedirectURL},
	})
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	token := &store.Token{
		Email:        pending.Email,
		Provider:     provider,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		Expiry:       s.expiry(resp.ExpiresIn),
	}

	// keep metadata such as a linked analytics property across reconnects
	if existing, err := s.tokens.GetToken(ctx, pending.Email, provider); err == nil {
		token.Metadata = existing.Metadata
	}

	if err := s.tokens.PutToken(ctx, token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}

	log.Info().Str("provider", provider).Str("email", pending.Email).Msg("OAuth account connected")
	return token, nil
}

// ValidToken returns a non-expired token for (email, provider), refreshing
// it first if needed. Concurrent refreshes of one token share a single call.
func (s *Service) ValidToken(ctx context.Context, email, provider string) (*store.Token, error) {
	token, err := s.tokens.GetToken(ctx, email, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	if !token.Expired(s.now()) {
		return token, nil
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired and cannot be refreshed", ErrNotConnected)
	}

	v, err, _ := s.refreshes.Do(provider+"|"+email, func() (interface{}, error) {
		return s.refresh(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Token), nil
}

func (s *Service) refresh(ctx context.Context, token *store.Token) (*store.Token, error) {
	p, err := s.provider(token.Provider)
	if err != nil {
		return nil, err
	}

	resp, err := s.requestToken(ctx, p, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {token.RefreshToken},
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	refreshed := *token
	refreshed.AccessToken = resp.AccessToken
	refreshed.Expiry = s.expiry(resp.ExpiresIn)
	if resp.RefreshToken != "" {
		refreshed.RefreshToken = resp.RefreshToken
	}
	if resp.TokenType != "" {
		refreshed.TokenType = resp.TokenType
	}

	if err := s.tokens.PutToken(ctx, &refreshed); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}

	log.Debug().Str("provider", token.Provider).Str("email", token.Email).Msg("OAuth token refreshed")
	return &refreshed, nil
}

// Connected reports whether a token is stored for (email, provider)
func (s *Service) Connected(ctx context.Context, email, provider string) (bool, error) {
	_, err := s.tokens.GetToken(ctx, email, provider)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetMetadata attaches a value, such as an analytics property id, to a
// connected account
func (s *Service) SetMetadata(ctx context.Context, email, provider, key, value string) error {
	token, err := s.tokens.GetToken(ctx, email, provider)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotConnected
	}
	if err != nil {
		return err
	}

	if token.Metadata == nil {
		token.Metadata = make(map[string]string)
	}
	token.Metadata[key] = value
	return s.tokens.PutToken(ctx, token)
}

func (s *Service) Disconnect(ctx context.Context, email, provider string) error {
	if err := s.tokens.DeleteToken(ctx, email, provider); err != nil {
		return err
	}
	log.Info().Str("provider", provider).Str("email", email).Msg("OAuth account disconnected")
	return nil
}

func (s *Service) requestToken(ctx context.Context, p config.ProviderConfig, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	if err := sources.DoJSON(s.client, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", resp.Error, resp.ErrorDescription)
	}
	if resp.AccessToken == "" {
		return nil, errors.New("provider returned no access token")
	}
	return &resp, nil
}

func (s *Service) expiry(expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return s.now().Add(time.Duration(expiresIn) * time.Second)
}
