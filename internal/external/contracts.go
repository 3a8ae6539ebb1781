// Package external defines the collaborator contracts the publishing core
// consumes: the upstream content/account store and the credential store.
// The core only ever calls these documented methods; the collaborators own
// their storage and schema.
package external

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("external: not found")

// ContentPiece is the resolved body of a publish intent.
type ContentPiece struct {
	ID        string
	Body      string
	MediaURLs []string
}

// SocialAccount describes a destination account. BrokerType is non-empty
// when the account is managed through a third-party broker rather than a
// direct platform integration.
type SocialAccount struct {
	ID             string
	Platform       string
	BrokerType     string
	CredentialsRef string
	ExpiresAt      *time.Time
}

// Credentials is the decrypted token bundle for one account.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ContentStore resolves content and accepts publish outcome notifications.
type ContentStore interface {
	GetContent(ctx context.Context, id string) (*ContentPiece, error)
	MarkContentPublished(ctx context.Context, id string) error
	MarkContentFailed(ctx context.Context, id string) error
}

// AccountStore resolves destination accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*SocialAccount, error)
	// ListExpiring returns accounts whose credentials expire before the
	// given instant, for the refresh sweep.
	ListExpiring(ctx context.Context, before time.Time) ([]*SocialAccount, error)
}

// CredentialStore retrieves and refreshes token bundles by opaque ref.
type CredentialStore interface {
	GetCredentials(ctx context.Context, ref string) (*Credentials, error)
	RefreshCredentials(ctx context.Context, ref string) (*Credentials, error)
}
