// Package gmail wraps the Gmail API as the mail-provider client.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailwise/inboxrag/internal/store"
)

// LabelInbox marks a message as belonging to the primary mailbox.
const LabelInbox = "INBOX"

// labelUnread marks a message as not yet read.
const labelUnread = "UNREAD"

// listPageSize is the Gmail list page size cap.
const listPageSize = 500

// Message is a provider message in the shape the ingestion path consumes.
type Message struct {
	ProviderID string
	Sender     string
	Subject    string
	Snippet    string
	Body       string
	Date       time.Time // zero when the provider supplied no usable date
	Labels     []string
	IsRead     bool
}

// HasLabel reports whether the message carries the given label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Config holds the OAuth client settings shared by all users.
type Config struct {
	ClientID     string
	ClientSecret string
}

// TokenSaver persists a refreshed provider access token.
type TokenSaver func(ctx context.Context, accessToken string, expiry time.Time) error

// Client is an authenticated per-user Gmail client.
type Client struct {
	svc *gmailv1.Service
	log *slog.Logger
}

// NewClient builds a Gmail client from the user's stored credentials.
// Refreshed access tokens are persisted through saveToken.
func NewClient(ctx context.Context, cfg Config, user store.User, saveToken TokenSaver, log *slog.Logger) (*Client, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	base := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
	}

	// Traced base transport for both token refresh and API calls.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	src := &savingTokenSource{
		src:       oauthCfg.TokenSource(ctx, base),
		lastToken: user.AccessToken,
		save:      saveToken,
		log:       log,
	}

	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{svc: svc, log: log}, nil
}

// savingTokenSource persists rotated access tokens as a side effect of
// token retrieval.
type savingTokenSource struct {
	src  oauth2.TokenSource
	save TokenSaver
	log  *slog.Logger

	mu        sync.Mutex
	lastToken string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	rotated := tok.AccessToken != s.lastToken
	if rotated {
		s.lastToken = tok.AccessToken
	}
	s.mu.Unlock()

	if rotated && s.save != nil {
		if err := s.save(context.Background(), tok.AccessToken, tok.Expiry); err != nil {
			s.log.Warn("Failed to persist refreshed token", slog.String("error", err.Error()))
		}
	}
	return tok, nil
}

// ListInboxMessageIDs lists up to max INBOX message ids, optionally
// restricted to messages after the watermark. The watermark is rounded down
// to day granularity for the provider query; row-level dedup absorbs the
// overlap.
func (c *Client) ListInboxMessageIDs(ctx context.Context, after time.Time, max int64) ([]string, error) {
	var ids []string
	pageToken := ""
	for int64(len(ids)) < max {
		call := c.svc.Users.Messages.List("me").
			LabelIds(LabelInbox).
			MaxResults(min(listPageSize, max-int64(len(ids)))).
			Context(ctx)
		if !after.IsZero() {
			call = call.Q("after:" + after.Format("2006/01/02"))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// GetMessage fetches a full message and parses headers, labels and body.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	resp, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	msg := &Message{
		ProviderID: resp.Id,
		Snippet:    resp.Snippet,
		Labels:     resp.LabelIds,
		Body:       ExtractBody(resp.Payload),
	}
	msg.IsRead = !msg.HasLabel(labelUnread)

	var dateHeader string
	if resp.Payload != nil {
		for _, h := range resp.Payload.Headers {
			switch h.Name {
			case "Subject":
				msg.Subject = h.Value
			case "From":
				msg.Sender = h.Value
			case "Date":
				dateHeader = h.Value
			}
		}
	}

	msg.Date = parseDate(dateHeader, resp.InternalDate)
	if msg.Date.IsZero() {
		c.log.WarnContext(ctx, "Message has no parseable date",
			slog.String("provider_id", id),
			slog.String("date_header", dateHeader))
	}
	return msg, nil
}

// parseDate parses the Date header, falling back to the provider's internal
// receive time in epoch milliseconds.
func parseDate(header string, internalMillis int64) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t
		}
	}
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis)
	}
	return time.Time{}
}

// MarkRead removes the UNREAD label at the provider.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.svc.Users.Messages.Modify("me", id, &gmailv1.ModifyMessageRequest{
		RemoveLabelIds: []string{labelUnread},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

// MarkUnread adds the UNREAD label at the provider.
func (c *Client) MarkUnread(ctx context.Context, id string) error {
	_, err := c.svc.Users.Messages.Modify("me", id, &gmailv1.ModifyMessageRequest{
		AddLabelIds: []string{labelUnread},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark unread %s: %w", id, err)
	}
	return nil
}

// Send submits a plain-text message and returns its provider id.
func (c *Client) Send(ctx context.Context, to, subject, body string) (string, error) {
	raw := strings.Join([]string{
		"To: " + to,
		"Subject: " + subject,
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		body,
	}, "\r\n")

	resp, err := c.svc.Users.Messages.Send("me", &gmailv1.Message{
		Raw: base64.RawURLEncoding.EncodeToString([]byte(raw)),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.Id, nil
}
