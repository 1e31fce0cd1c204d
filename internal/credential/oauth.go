package credential

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nghyane/medistream/internal/config"
)

// NewOAuth2 builds a token source from cfg. A refresh token selects the
// refresh-token grant; otherwise the client-credentials grant is used. httpClient
// carries proxy settings and may be nil.
func NewOAuth2(ctx context.Context, cfg config.OAuth, httpClient *http.Client) OAuth2 {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	if cfg.RefreshToken != "" {
		conf := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
			Scopes:       cfg.Scopes,
		}
		return OAuth2{TokenSource: conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})}
	}
	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return OAuth2{TokenSource: conf.TokenSource(ctx)}
}
