// Package sqs adapts Amazon SQS queues and SNS topics to the queue contracts.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/3leaps/annflow/pkg/queue"
)

// SQS caps batch size and long-poll wait.
const (
	MaxBatchSize   = 10
	MaxWaitSeconds = 20
)

// DefaultMessageGroupID groups all job events on FIFO channels.
const DefaultMessageGroupID = "annotations_jobs"

// API is the subset of the SQS client used here.
type API interface {
	ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
}

// TopicAPI is the subset of the SNS client used here.
type TopicAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Consumer receives from one queue URL.
type Consumer struct {
	api      API
	queueURL string
}

var _ queue.Consumer = (*Consumer)(nil)

func NewConsumer(api API, queueURL string) (*Consumer, error) {
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	return &Consumer{api: api, queueURL: queueURL}, nil
}

func (c *Consumer) Receive(ctx context.Context, opts queue.ReceiveOptions) ([]queue.Message, error) {
	in := &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: clamp(int32(opts.MaxMessages), 1, MaxBatchSize),
		WaitTimeSeconds:     clamp(int32(opts.WaitTime.Seconds()), 0, MaxWaitSeconds),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}
	if opts.VisibilityTimeout > 0 {
		in.VisibilityTimeout = int32(opts.VisibilityTimeout.Seconds())
	}

	out, err := c.api.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, wrapError("ReceiveMessage", c.queueURL, err)
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, queue.Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return msgs, nil
}

func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return wrapError("DeleteMessage", c.queueURL, err)
	}
	return nil
}

// TopicPublisher publishes raw payloads to an SNS topic. Subscribed queues
// receive them inside the SNS notification envelope.
type TopicPublisher struct {
	api      TopicAPI
	topicARN string
	groupID  string
}

var _ queue.Publisher = (*TopicPublisher)(nil)

// NewTopicPublisher creates a publisher. groupID applies to FIFO topics only;
// empty uses DefaultMessageGroupID.
func NewTopicPublisher(api TopicAPI, topicARN, groupID string) (*TopicPublisher, error) {
	if strings.TrimSpace(topicARN) == "" {
		return nil, fmt.Errorf("topic arn is required")
	}
	if groupID == "" {
		groupID = DefaultMessageGroupID
	}
	return &TopicPublisher{api: api, topicARN: topicARN, groupID: groupID}, nil
}

func (p *TopicPublisher) Publish(ctx context.Context, payload []byte, dedupID string) error {
	in := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
	}
	if isFIFO(p.topicARN) {
		in.MessageGroupId = aws.String(p.groupID)
		if dedupID != "" {
			in.MessageDeduplicationId = aws.String(dedupID)
		}
	}
	if _, err := p.api.Publish(ctx, in); err != nil {
		return wrapError("Publish", p.topicARN, err)
	}
	return nil
}

// QueuePublisher sends directly to a queue, adding the envelope that SNS
// would otherwise add.
type QueuePublisher struct {
	api      API
	queueURL string
	groupID  string
}

var _ queue.Publisher = (*QueuePublisher)(nil)

func NewQueuePublisher(api API, queueURL, groupID string) (*QueuePublisher, error) {
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if groupID == "" {
		groupID = DefaultMessageGroupID
	}
	return &QueuePublisher{api: api, queueURL: queueURL, groupID: groupID}, nil
}

func (p *QueuePublisher) Publish(ctx context.Context, payload []byte, dedupID string) error {
	body, err := queue.Wrap(payload, uuid.NewString())
	if err != nil {
		return err
	}
	in := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	}
	if isFIFO(p.queueURL) {
		in.MessageGroupId = aws.String(p.groupID)
		if dedupID != "" {
			in.MessageDeduplicationId = aws.String(dedupID)
		}
	}
	if _, err := p.api.SendMessage(ctx, in); err != nil {
		return wrapError("SendMessage", p.queueURL, err)
	}
	return nil
}

func isFIFO(name string) bool {
	return strings.HasSuffix(name, ".fifo")
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ChannelError wraps a failed queue or topic call.
type ChannelError struct {
	Op      string
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func wrapError(op, channel string, err error) error {
	wrapped := &ChannelError{Op: op, Channel: channel, Err: err}

	var qne *types.QueueDoesNotExist
	if errors.As(err, &qne) {
		wrapped.Err = queue.ErrQueueNotFound
		return wrapped
	}
	var rhi *types.ReceiptHandleIsInvalid
	if errors.As(err, &rhi) {
		wrapped.Err = queue.ErrInvalidReceipt
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist", "NotFound":
			wrapped.Err = queue.ErrQueueNotFound
		case "ReceiptHandleIsInvalid":
			wrapped.Err = queue.ErrInvalidReceipt
		case "Throttling", "ThrottlingException", "RequestThrottled", "KMSThrottlingException":
			wrapped.Err = queue.ErrThrottled
		}
	}
	return wrapped
}
