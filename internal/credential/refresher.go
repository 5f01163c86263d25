package credential

import (
	"context"
	"net/http"

	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new access token.
// Errors are marked errors.ErrCredentialsExpired when the grant itself is
// rejected and errors.ErrTransient when the token endpoint could not answer.
type Refresher interface {
	Refresh(ctx context.Context, providerKey string, cred Credential) (Credential, error)
}

type OAuth2Refresher struct {
	configs    map[string]*oauth2.Config
	httpClient *http.Client
}

func NewOAuth2Refresher(providers map[string]config.OAuthProviderConfig, httpClient *http.Client) *OAuth2Refresher {
	configs := make(map[string]*oauth2.Config, len(providers))
	for key, p := range providers {
		configs[key] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Scopes:       p.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  p.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
	}
	return &OAuth2Refresher{configs: configs, httpClient: httpClient}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, providerKey string, cred Credential) (Credential, error) {
	conf, ok := r.configs[providerKey]
	if !ok {
		return Credential{}, errors.Mark(errors.Newf("no oauth client configured for %s", providerKey), errors.ErrCredentialsExpired)
	}
	if cred.RefreshToken == "" {
		return Credential{}, errors.Mark(errors.New("no refresh token stored"), errors.ErrCredentialsExpired)
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return Credential{}, errors.Mark(errors.Wrapf(err, "refresh rejected by %s", providerKey), errors.ErrCredentialsExpired)
		}
		return Credential{}, errors.Mark(errors.Wrapf(err, "token endpoint of %s unavailable", providerKey), errors.ErrTransient)
	}

	out := cred
	out.AccessToken = tok.AccessToken
	out.TokenType = tok.TokenType
	out.Expiry = tok.Expiry
	// 部分服务商不轮换 refresh token
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scope = scope
	}
	return out, nil
}
