package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/twiliowhatsapp"
)

func TestTwilioServiceSendEmitsReceipt(t *testing.T) {
	ctx := context.Background()
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	if err := svc.SendMessage(ctx, "5561999990000", "olá"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(client.SentMessages) != 1 {
		t.Fatalf("Expected 1 sent message, got %d", len(client.SentMessages))
	}
	if client.SentMessages[0].To != "5561999990000" || client.SentMessages[0].Body != "olá" {
		t.Errorf("Sent message mismatch: %+v", client.SentMessages[0])
	}

	select {
	case rcpt := <-svc.Receipts():
		if rcpt.To != "5561999990000" || rcpt.Status != models.StatusTypeSent {
			t.Errorf("Receipt mismatch: %+v", rcpt)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the sent receipt")
	}
}

func TestTwilioServiceInjectMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	svc.InjectMessage(models.Message{From: "5561999990000", Body: "oi", Time: time.Now().Unix()})

	select {
	case msg := <-svc.Messages():
		if msg.From != "5561999990000" || msg.Body != "oi" {
			t.Errorf("Injected message mismatch: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for the injected message")
	}
}

func TestTwilioServiceStopIsIdempotent(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("Second Stop should be a no-op: %v", err)
	}

	// Injection after Stop must not panic on the closed channel.
	svc.InjectMessage(models.Message{From: "5561999990000", Body: "tarde demais"})
}
