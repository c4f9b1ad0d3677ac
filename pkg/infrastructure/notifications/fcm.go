// Package notifications delivers push notifications over Firebase
// Cloud Messaging. Device tokens live on the user document; tokens the
// FCM backend reports as no longer registered are pruned after a send.
package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	shared "github.com/stridecast/server/pkg"
)

// FCMAdapter implements shared.NotificationService on top of Firebase
// Cloud Messaging. Dead-token pruning goes through shared.Database so
// the user document stays the single home for fcm_tokens.
type FCMAdapter struct {
	client *messaging.Client
	db     shared.Database

	// isDeadToken classifies a per-token send error as permanent.
	isDeadToken func(error) bool
}

func NewFCMAdapter(ctx context.Context, app *firebase.App, db shared.Database) (*FCMAdapter, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging client: %w", err)
	}
	return &FCMAdapter{
		client:      client,
		db:          db,
		isDeadToken: messaging.IsRegistrationTokenNotRegistered,
	}, nil
}

// SendPushNotification sends one multicast message to every token the
// user has registered. Per-token failures do not fail the send; tokens
// reported as unregistered are removed from the user document.
func (a *FCMAdapter) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	if len(tokens) == 0 {
		slog.Debug("no device tokens, skipping push", "user_id", userID)
		return nil
	}

	slog.Info("sending push notification", "user_id", userID, "token_count", len(tokens), "title", title)

	resp, err := a.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("send multicast: %w", err)
	}

	if resp.FailureCount > 0 {
		slog.Warn("push delivery partially failed",
			"user_id", userID,
			"failure_count", resp.FailureCount,
			"success_count", resp.SuccessCount,
		)
		a.pruneDeadTokens(ctx, userID, tokens, resp.Responses)
	}

	return nil
}

// pruneDeadTokens removes permanently-dead tokens from the user's
// fcm_tokens array. Transient send failures are left alone so the
// next push retries them.
func (a *FCMAdapter) pruneDeadTokens(ctx context.Context, userID string, tokens []string, responses []*messaging.SendResponse) {
	var dead []interface{}
	for i, r := range responses {
		if r.Error != nil && a.isDeadToken(r.Error) {
			dead = append(dead, tokens[i])
		}
	}
	if len(dead) == 0 {
		return
	}

	slog.Info("pruning dead device tokens", "user_id", userID, "count", len(dead))
	err := a.db.UpdateUser(ctx, userID, map[string]interface{}{
		"fcm_tokens": firestore.ArrayRemove(dead...),
	})
	if err != nil {
		slog.Error("failed to prune dead device tokens", "user_id", userID, "error", err)
	}
}
