package notify

import (
	"context"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"
)

// Sender 通过 SMTP 发送邮件，并限制每秒发送数量，避免被邮件服务商限流
type Sender struct {
	client  *mail.Client
	from    string
	limiter *rate.Limiter
}

func NewSender(client *mail.Client, from string, perSecond int) *Sender {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Sender{
		client:  client,
		from:    from,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	return s.client.DialAndSendWithContext(ctx, msg)
}
