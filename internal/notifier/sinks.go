package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	tele "gopkg.in/telebot.v4"

	logx "chronosend/pkg/logx"
)

var ErrBadAddress = errors.New("notifier: bad address")

// Router picks a sink by address shape. Nil sinks fall through to the log sink.
type Router struct {
	Email    Sink
	Telegram Sink
	Log      Sink
}

func (r Router) route(address string) (Sink, string) {
	a := strings.TrimSpace(address)
	switch {
	case strings.HasPrefix(a, "tg:") && r.Telegram != nil:
		return r.Telegram, strings.TrimPrefix(a, "tg:")
	case strings.Contains(a, "@") && !strings.HasPrefix(a, "tg:") && r.Email != nil:
		return r.Email, a
	}
	return r.Log, a
}

// LogSink writes notifications to the structured log.
type LogSink struct{ log logx.Logger }

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, address string, msg Message) error {
	s.log.Info("notification",
		logx.String("address", address),
		logx.String("subject", msg.Subject),
		logx.String("body", msg.Body),
	)
	return nil
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSink sends plain-text email through AWS SES.
type EmailSink struct {
	api  sesAPI
	from string
}

// NewEmailSink loads AWS credentials from the default chain.
func NewEmailSink(ctx context.Context, region, from string) (*EmailSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EmailSink{api: ses.NewFromConfig(cfg), from: from}, nil
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, address string, msg Message) error {
	subject := msg.Subject
	if subject == "" {
		subject = "chronosend"
	}
	_, err := s.api.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &sestypes.Destination{ToAddresses: []string{address}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	return err
}

type telegramAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink sends a bot message to a chat id.
type TelegramSink struct {
	api telegramAPI
}

func NewTelegramSink(token string) (*TelegramSink, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSink{api: bot}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(_ context.Context, address string, msg Message) error {
	id, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: telegram chat id %q", ErrBadAddress, address)
	}
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Body
	}
	_, err = s.api.Send(&tele.Chat{ID: id}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
