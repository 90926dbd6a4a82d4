package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridHost = "https://api.sendgrid.com"

// SendGrid emails notices to a fixed operator address.
type SendGrid struct {
	apiKey string
	host   string
	from   *mail.Email
	to     *mail.Email
}

type SendGridOption func(*SendGrid)

// WithSendGridHost points the client at another API host.
func WithSendGridHost(host string) SendGridOption {
	return func(s *SendGrid) { s.host = host }
}

func NewSendGrid(apiKey, from, to string, opts ...SendGridOption) (*SendGrid, error) {
	if apiKey == "" || from == "" || to == "" {
		return nil, errors.New("sendgrid: api key, from and to are required")
	}
	s := &SendGrid{
		apiKey: apiKey,
		host:   sendGridHost,
		from:   mail.NewEmail("Beatframe", from),
		to:     mail.NewEmail("Beatframe operator", to),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SendGrid) Notify(ctx context.Context, n Notice) error {
	message := mail.NewSingleEmail(s.from, n.Subject, s.to, n.Text, "")
	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = http.MethodPost
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}
