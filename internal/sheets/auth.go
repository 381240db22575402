package sheets

import (
	"context"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/ballhead/ballhead/internal/config"
	"github.com/ballhead/ballhead/pkg/errors"
)

// ServiceAccountConnector builds a Connector that authenticates with the
// configured service account. Inline JSON wins over a key file; with neither,
// Application Default Credentials are used.
func ServiceAccountConnector(cfg config.SheetsConfig) Connector {
	return func(ctx context.Context) (Reader, error) {
		creds, err := loadCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}

		// Fetching a token up front surfaces bad keys here rather than on the first read.
		if _, err := creds.TokenSource.Token(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeOriginAuth, "service account token exchange failed").
				WithComponent("sheets").WithOperation("authenticate")
		}

		return NewClient(ctx, cfg.RequestTimeout, option.WithCredentials(creds))
	}
}

func loadCredentials(ctx context.Context, cfg config.SheetsConfig) (*google.Credentials, error) {
	var data []byte
	switch {
	case cfg.CredentialsJSON != "":
		data = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCredentialsMissing, "failed to read credentials file").
				WithComponent("sheets").WithContext("file", cfg.CredentialsFile)
		}
		data = raw
	default:
		creds, err := google.FindDefaultCredentials(ctx, cfg.Scopes...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCredentialsMissing, "no sheets credentials configured").
				WithComponent("sheets")
		}
		return creds, nil
	}

	creds, err := google.CredentialsFromJSON(ctx, data, cfg.Scopes...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOriginAuth, "invalid service account credentials").
			WithComponent("sheets").WithOperation("authenticate")
	}
	return creds, nil
}
