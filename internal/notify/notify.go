package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers fire-and-forget SMS messages. Delivery failure must never
// affect an already-committed sale or transfer; callers log and move on.
type Notifier interface {
	Send(ctx context.Context, message string, phones []string) error
}

type Noop struct{}

func (Noop) Send(_ context.Context, _ string, _ []string) error {
	return nil
}

// BeemNotifier sends SMS through the Beem Africa gateway.
type BeemNotifier struct {
	apiKey     string
	secretKey  string
	sourceAddr string
	endpoint   string
	client     *http.Client
}

const beemEndpoint = "https://apisms.beem.africa/v1/send"

func NewBeemNotifier(apiKey string, secretKey string, sourceAddr string) *BeemNotifier {
	return &BeemNotifier{
		apiKey:     apiKey,
		secretKey:  secretKey,
		sourceAddr: sourceAddr,
		endpoint:   beemEndpoint,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type beemRecipient struct {
	RecipientID int    `json:"recipient_id"`
	DestAddr    string `json:"dest_addr"`
}

type beemRequest struct {
	SourceAddr   string          `json:"source_addr"`
	ScheduleTime string          `json:"schedule_time"`
	Encoding     int             `json:"encoding"`
	Message      string          `json:"message"`
	Recipients   []beemRecipient `json:"recipients"`
}

func (n *BeemNotifier) Send(ctx context.Context, message string, phones []string) error {
	if len(phones) == 0 {
		return nil
	}

	recipients := make([]beemRecipient, 0, len(phones))
	for i, phone := range phones {
		recipients = append(recipients, beemRecipient{
			RecipientID: i + 1,
			DestAddr:    formatPhoneNumber(phone),
		})
	}

	payload, err := json.Marshal(beemRequest{
		SourceAddr: n.sourceAddr,
		Message:    message,
		Recipients: recipients,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	credentials := base64.StdEncoding.EncodeToString([]byte(n.apiKey + ":" + n.secretKey))
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// formatPhoneNumber converts local 0-prefixed Tanzanian numbers to the
// international 255 form the gateway expects. Anything else passes through.
func formatPhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		return "255" + phone[1:]
	}
	return phone
}
