package smtp

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
	auth smtp.Auth
}

func newTestMailer(t *testing.T, sendErr error) (*mailer, *captured) {
	t.Helper()
	c := &captured{}
	m := NewMailer(&config.Config{
		SMTPHost:     "mail.local",
		SMTPPort:     "2525",
		SMTPFrom:     "noreply@relay.test",
		SMTPFromName: "System",
	}).(*mailer)
	m.send = func(_ context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.auth, c.from, c.to, c.msg = addr, a, from, to, string(msg)
		return sendErr
	}
	return m, c
}

func voteEmail() domain.EmailMessage {
	return domain.EmailMessage{
		To:       "b@example.com",
		Subject:  "New vote cast",
		Template: "proposalVote",
		TemplateData: map[string]string{
			"title":       "casted vote",
			"content":     "New Vote cast detected for address 0xa",
			"VoteContent": "Proposal 42 on arbitrum: For",
			"endContent":  "You receive this because you delegate to 0xa.",
		},
	}
}

func TestSendTemplatedEmail_RendersProposalVote(t *testing.T) {
	m, c := newTestMailer(t, nil)

	require.NoError(t, m.SendTemplatedEmail(context.Background(), voteEmail()))

	assert.Equal(t, "mail.local:2525", c.addr)
	assert.Equal(t, "noreply@relay.test", c.from)
	assert.Equal(t, []string{"b@example.com"}, c.to)
	assert.Nil(t, c.auth)
	assert.Contains(t, c.msg, `From: "System" <noreply@relay.test>`)
	assert.Contains(t, c.msg, "Content-Type: text/html")
	assert.Contains(t, c.msg, "New Vote cast detected for address 0xa")
	assert.Contains(t, c.msg, "Proposal 42 on arbitrum: For")
}

func TestSendTemplatedEmail_SenderNameOverride(t *testing.T) {
	m, c := newTestMailer(t, nil)
	msg := voteEmail()
	msg.Name = "Arbitrum DAO"

	require.NoError(t, m.SendTemplatedEmail(context.Background(), msg))
	assert.Contains(t, c.msg, `From: "Arbitrum DAO" <noreply@relay.test>`)
}

func TestSendTemplatedEmail_EscapesContent(t *testing.T) {
	m, c := newTestMailer(t, nil)
	msg := voteEmail()
	msg.TemplateData["content"] = "<script>x</script>"

	require.NoError(t, m.SendTemplatedEmail(context.Background(), msg))
	assert.False(t, strings.Contains(c.msg, "<script>"))
}

func TestSendTemplatedEmail_UnknownTemplate(t *testing.T) {
	m, _ := newTestMailer(t, nil)
	msg := voteEmail()
	msg.Template = "weeklyDigest"

	err := m.SendTemplatedEmail(context.Background(), msg)
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)
}

func TestSendTemplatedEmail_MissingRecipient(t *testing.T) {
	m, _ := newTestMailer(t, nil)
	msg := voteEmail()
	msg.To = ""

	assert.ErrorIs(t, m.SendTemplatedEmail(context.Background(), msg), domain.ErrNoEmail)
}

func TestSendTemplatedEmail_TransportError(t *testing.T) {
	m, _ := newTestMailer(t, errors.New("connection refused"))

	err := m.SendTemplatedEmail(context.Background(), voteEmail())
	assert.ErrorContains(t, err, "connection refused")
}

func TestSendTemplatedEmail_CancelledContext(t *testing.T) {
	m, c := newTestMailer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.SendTemplatedEmail(ctx, voteEmail()), context.Canceled)
	assert.Empty(t, c.addr)
}
