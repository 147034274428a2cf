package gcs

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
)

const storageScope = "https://www.googleapis.com/auth/devstorage.read_write"

// credentialsFor resolves, in order: inline service account JSON, a
// credentials file, then Application Default Credentials (which include the
// GCE metadata server).
func credentialsFor(ctx context.Context, gcp config.GCPConfig) (*google.Credentials, error) {
	switch {
	case gcp.CredentialsJSON != "":
		return google.CredentialsFromJSON(ctx, []byte(gcp.CredentialsJSON), storageScope)
	case gcp.ApplicationCredentials != "":
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		return google.CredentialsFromJSON(ctx, raw, storageScope)
	default:
		return google.FindDefaultCredentials(ctx, storageScope)
	}
}

// authorizedClient attaches a refreshing bearer token to every request.
func authorizedClient(src oauth2.TokenSource, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, src), Base: base},
	}
}
