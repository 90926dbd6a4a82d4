package notify

import (
	"context"
	"fmt"
	"net/http"

	"beatframe/pkg/platform/httpclient"
)

// Slack posts notices to an incoming webhook.
type Slack struct {
	webhookURL string
	exec       *httpclient.Executor
}

func NewSlack(webhookURL string, exec *httpclient.Executor) *Slack {
	return &Slack{webhookURL: webhookURL, exec: exec}
}

func (s *Slack) Notify(ctx context.Context, n Notice) error {
	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, s.webhookURL, map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", n.Subject, n.Text),
	})
	if err != nil {
		return err
	}
	resp, err := s.exec.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	if resp.Status >= 300 {
		return fmt.Errorf("slack webhook: status %d: %s", resp.Status, resp.BodyBytes)
	}
	return nil
}
