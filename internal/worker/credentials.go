package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"syndicate/internal/external"
	"syndicate/internal/queue"
)

// RefreshJobPayload travels on the credential-refresh queue.
type RefreshJobPayload struct {
	SocialAccountID string `json:"social_account_id"`
}

// CredentialWorker consumes refresh jobs enqueued by the credential
// sweep. The stored bundle is swapped atomically by the credential store;
// an in-flight publish keeps the token it already read and, if that token
// expires under it, the next attempt picks up the refreshed one.
type CredentialWorker struct {
	accounts    external.AccountStore
	credentials external.CredentialStore
	queue       queue.Queue
	logger      *zap.Logger
}

func NewCredentialWorker(
	accounts external.AccountStore,
	credentials external.CredentialStore,
	q queue.Queue,
	logger *zap.Logger,
) *CredentialWorker {
	return &CredentialWorker{
		accounts:    accounts,
		credentials: credentials,
		queue:       q,
		logger:      logger,
	}
}

func (w *CredentialWorker) Register() {
	w.queue.OnJob(queue.CredentialRefresh, w.Handle)
}

func (w *CredentialWorker) Handle(ctx context.Context, job queue.Job) error {
	var payload RefreshJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error("Dropping malformed refresh job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	account, err := w.accounts.GetAccount(ctx, payload.SocialAccountID)
	if err != nil {
		w.logger.Warn("Refresh job references unknown account",
			zap.String("account_id", payload.SocialAccountID), zap.Error(err))
		return nil
	}

	if _, err := w.credentials.RefreshCredentials(ctx, account.CredentialsRef); err != nil {
		// Handler error: the queue retries with backoff.
		return fmt.Errorf("refresh credentials for account %s: %w", account.ID, err)
	}

	w.logger.Info("Credentials refreshed",
		zap.String("account_id", account.ID),
		zap.String("platform", account.Platform))
	return nil
}
