package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/sodmaq/NestMongo/libs/kafka"
)

type recordingPublisher struct {
	topic string
	key   string
	value any
	err   error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.topic, p.key, p.value = topic, key, value
	return 0, 1, p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestKafkaNotifierPublishesEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewKafkaNotifier(pub, "identity.notifications")

	msg := Message{
		Template: TemplateOTP,
		To:       "a@example.com",
		Subject:  "Password Reset OTP",
		Data:     map[string]string{"otp": "123456", "expires_in_minutes": "10"},
	}
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.topic != "identity.notifications" || pub.key != "a@example.com" {
		t.Fatalf("unexpected topic/key %q/%q", pub.topic, pub.key)
	}

	raw, err := json.Marshal(pub.value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded kafka.Event[Message]
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("invalid envelope: %v", err)
	}
	if decoded.EventType != EventTypeNotificationRequested {
		t.Fatalf("unexpected event type %q", decoded.EventType)
	}
	if decoded.Data.Data["otp"] != "123456" || decoded.Data.Template != TemplateOTP {
		t.Fatalf("unexpected payload %+v", decoded.Data)
	}
}

func TestKafkaNotifierWrapsPublishError(t *testing.T) {
	boom := errors.New("broker down")
	n := NewKafkaNotifier(&recordingPublisher{err: boom}, "t")

	err := n.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestKafkaNotifierRequiresRecipient(t *testing.T) {
	pub := &recordingPublisher{}
	if err := NewKafkaNotifier(pub, "t").Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
	if pub.value != nil {
		t.Fatalf("expected nothing published")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := NewLogNotifier(logger).Send(context.Background(), Message{
		Template: TemplateWelcomeVerify,
		To:       "a@example.com",
		Data:     map[string]string{"verify_url": "http://localhost:3000/auth/verify/t"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"template":"welcome-verify"`) || !strings.Contains(out, "verify_url") {
		t.Fatalf("unexpected log output %s", out)
	}
}
