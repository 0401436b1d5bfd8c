// README: Offline push notification fallback for users without a live connection.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers a message to a user who has no live connection. Failures
// are reported but callers must never let them roll back persisted state.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, message, title string) error
}

// PushNotifier posts to a OneSignal-style HTTP endpoint.
type PushNotifier struct {
	endpoint string
	apiKey   string
	appID    string
	client   *http.Client
	log      *slog.Logger
}

func NewPushNotifier(endpoint, apiKey, appID string, log *slog.Logger) *PushNotifier {
	return &PushNotifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		appID:    appID,
		client:   &http.Client{Timeout: 3 * time.Second},
		log:      log,
	}
}

func (p *PushNotifier) NotifyUser(ctx context.Context, userID int64, message, title string) error {
	body := map[string]any{
		"app_id":                    p.appID,
		"include_external_user_ids": []string{fmt.Sprintf("%d", userID)},
		"contents":                  map[string]string{"en": message},
		"headings":                  map[string]string{"en": title},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Basic "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("push delivery failed", "user_id", userID, "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		p.log.Warn("push provider rejected notification", "user_id", userID, "status", resp.StatusCode)
		return fmt.Errorf("push provider status %d", resp.StatusCode)
	}
	return nil
}
