package telegram

import (
	"context"
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"

	logx "eckod/pkg/logx"
)

type fakeSender struct {
	to   tele.Recipient
	text string
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.to = to
	f.text, _ = what.(string)
	if f.err != nil {
		return nil, f.err
	}
	return &tele.Message{}, nil
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestDeliverMapsOwnerToChat(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	c := newWithSender(Config{Owners: map[string]int64{"facu": 4242}}, f, logx.Nop())

	err := c.Deliver(context.Background(), "facu", "🔔 Ecko", "tomar la pastilla", nil)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if chat, ok := f.to.(tele.ChatID); !ok || int64(chat) != 4242 {
		t.Fatalf("sent to %v, want ChatID(4242)", f.to)
	}
	if f.text != "🔔 Ecko\ntomar la pastilla" {
		t.Fatalf("text = %q", f.text)
	}
}

func TestDeliverUnknownOwnerIsNoop(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	c := newWithSender(Config{Owners: map[string]int64{"facu": 4242}}, f, logx.Nop())

	if err := c.Deliver(context.Background(), "stranger", "t", "m", nil); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if f.to != nil {
		t.Fatalf("unexpected send to %v", f.to)
	}
}

func TestDeliverWrapsSendError(t *testing.T) {
	t.Parallel()
	boom := errors.New("api down")
	f := &fakeSender{err: boom}
	c := newWithSender(Config{Owners: map[string]int64{"facu": 4242}}, f, logx.Nop())

	err := c.Deliver(context.Background(), "facu", "t", "m", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped send error", err)
	}
}
