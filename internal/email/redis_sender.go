package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rabby0101/khulna-hub-services/internal/config"
)

// RedisSender implements the Sender interface by storing emails in Redis
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// classifySubject maps an email subject to the notification kind it came
// from, so integration tests can look up a mock email by recipient and kind.
func classifySubject(subject string) string {
	lower := strings.ToLower(subject)
	switch {
	case strings.Contains(lower, "proposal was accepted"):
		return "proposal_accepted"
	case strings.Contains(lower, "counter"):
		return "counter_proposal"
	case strings.Contains(lower, "update on your proposal"):
		return "proposal_rejected"
	case strings.Contains(lower, "proposal"):
		return "proposal_received"
	case strings.Contains(lower, "deal created"):
		return "deal_created"
	case strings.Contains(lower, "deal completed"):
		return "deal_completed"
	case strings.Contains(lower, "message"):
		return "message_received"
	default:
		return "unknown"
	}
}

// Send stores a representation of the email in Redis instead of sending it
// via SMTP. Used when MOCK_SERVICES is enabled so tests can assert on
// delivered mail.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	kind := classifySubject(subject)

	// Key by the primary recipient; multi-recipient mail is rare here.
	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	emailData := map[string]interface{}{
		"to":      strings.Join(to, ", "),
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"body":    string(rawMessage),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
		"kind":    kind,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, kind)
	ttl := 5 * time.Minute

	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (TTL: %v, To: %s, Subject: %s)", key, ttl, strings.Join(to, ", "), subject)
	return nil
}
