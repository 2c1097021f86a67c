// Package mailer sends outbound email through AWS SES v2. The Sender
// interface keeps the transport swappable in tests.
package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/ghostpost/internal/config"
	"github.com/ignite/ghostpost/internal/pkg/logger"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sender delivers a message and returns the provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SESSender sends through AWS SES v2.
type SESSender struct {
	client *sesv2.Client
	from   string
}

// NewSESSender creates a sender using static credentials when provided,
// falling back to the default AWS credential chain.
func NewSESSender(ctx context.Context, cfg appconfig.SESConfig) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESSender{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.FromAddress,
	}, nil
}

// Send delivers one message. An empty From falls back to the configured
// default address.
func (s *SESSender) Send(ctx context.Context, msg Message) (string, error) {
	from := msg.From
	if from == "" {
		from = s.from
	}
	if from == "" {
		return "", fmt.Errorf("no from address configured")
	}
	if len(msg.To) == 0 {
		return "", fmt.Errorf("no recipients")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: msg.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	id := aws.ToString(output.MessageId)
	logger.Info("email sent", "to_count", len(msg.To), "message_id", id)
	return id, nil
}
