package mailing

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through Amazon SES.
type SESSender struct {
	client           SESAPI
	configurationSet string
}

func NewSESSender(client SESAPI, configurationSet string) *SESSender {
	return &SESSender{client: client, configurationSet: configurationSet}
}

// NewSESClient builds an SES client for region. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string) (*sesv2.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

func (s *SESSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.fromHeader()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.EmailID != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("email_id"), Value: aws.String(msg.EmailID)},
		}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return SendResult{}, fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Info("email handed to ses", "to_email", msg.To, "email_id", msg.EmailID, "message_id", messageID)
	return SendResult{MessageID: messageID, Transport: "ses", SentAt: time.Now().UTC()}, nil
}
