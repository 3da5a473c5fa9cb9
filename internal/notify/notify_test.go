package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

func TestRender_BorrowConfirmation(t *testing.T) {
	due := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	msg, err := Render(BorrowConfirmation("alice@example.com", "alice", "Dune", due, ""))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, `You have borrowed "Dune". The due date for return is 2025-03-14.`, msg.Text)
	assert.Contains(t, msg.HTML, "<strong>Dune</strong>")
	assert.NotContains(t, msg.HTML, "Manage your loans")
}

func TestRender_EscapesHTML(t *testing.T) {
	msg, err := Render(BorrowConfirmation("a@example.com", "<script>", "Tom & Jerry", time.Now(), ""))
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "Tom &amp; Jerry")
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestRender_Reminders(t *testing.T) {
	msg, err := Render(OverdueReminder("a@example.com", "Emma", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, `The book "Emma" is overdue. Please return it as soon as possible.`, msg.Text)
	assert.Empty(t, msg.HTML)

	msg, err = Render(DueTodayReminder("a@example.com", "Emma", time.Now()))
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "is due today")
}

func TestRender_Invalid(t *testing.T) {
	_, err := Render(Intent{Kind: KindOverdueReminder})
	assert.Error(t, err)

	_, err = Render(Intent{Kind: "unknown", To: "a@example.com"})
	assert.Error(t, err)
}

type fakeMailClient struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeMailClient) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.sent = append(f.sent, messages...)
	return f.err
}

func TestNewSMTPSender(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "mail.example.com", Port: 587, Username: "u", Password: "p", From: "library@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, s.client)

	_, err = NewSMTPSender(SMTPConfig{Host: "", Port: 587, From: "library@example.com"})
	assert.Error(t, err)
}

func TestSMTPSender_Send(t *testing.T) {
	client := &fakeMailClient{}
	s := &SMTPSender{from: "library@example.com", client: client}

	msg, err := Render(BorrowConfirmation("alice@example.com", "alice", "Dune", time.Now(), ""))
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), msg))
	require.Len(t, client.sent, 1)

	rcpts, err := client.sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, rcpts)

	var buf bytes.Buffer
	_, err = client.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/html")
	assert.Contains(t, raw, "library@example.com")
}

func TestSMTPSender_Errors(t *testing.T) {
	client := &fakeMailClient{err: errors.New("connection refused")}
	s := &SMTPSender{from: "library@example.com", client: client}

	err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Text: "body"})
	assert.ErrorContains(t, err, "a@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Send(ctx, Message{To: "a@example.com", Subject: "hi", Text: "body"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTPSender_RejectsHeaderInjection(t *testing.T) {
	client := &fakeMailClient{}
	s := &SMTPSender{from: "library@example.com", client: client}

	err := s.Send(context.Background(), Message{To: "a@example.com\r\nBcc: x@example.com", Subject: "hi"})
	assert.Error(t, err)

	err = s.Send(context.Background(), Message{To: "a@example.com", Subject: "hi\r\nBcc: x@example.com"})
	assert.Error(t, err)
	assert.Empty(t, client.sent)
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramSender_Send(t *testing.T) {
	bot := &fakeBot{}
	s := &TelegramSender{api: bot, chatID: 42, logger: zap.NewNop()}

	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "Overdue Book Reminder", Text: "late"}))
	require.Len(t, bot.sent, 1)

	sent, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), sent.ChatID)
	assert.Contains(t, sent.Text, "Overdue Book Reminder")

	bot.err = errors.New("boom")
	assert.Error(t, s.Send(context.Background(), Message{}))
}

type countingSender struct {
	n   int
	err error
}

func (c *countingSender) Send(context.Context, Message) error {
	c.n++
	return c.err
}

func TestMultiSender(t *testing.T) {
	failing := &countingSender{err: errors.New("down")}
	ok := &countingSender{}

	err := MultiSender{failing, ok}.Send(context.Background(), Message{})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.n)
	assert.Equal(t, 1, ok.n)

	assert.NoError(t, NewLogSender(zap.NewNop()).Send(context.Background(), Message{To: "x"}))
}
