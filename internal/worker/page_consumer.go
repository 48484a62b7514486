package worker

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/exigo-bridge/internal/fanout"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

// SQSAPI is the subset of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// HandlerResolver finds the page handler for a company.
type HandlerResolver interface {
	PageHandler(companyID string) (*fanout.PageHandler, error)
}

// PageConsumer processes page tasks published by the fan-out
// orchestrator and reports each result to the run's Redis counters.
type PageConsumer struct {
	client    SQSAPI
	queueURL  string
	resolver  HandlerResolver
	rdb       redis.Cmdable
	resultTTL time.Duration
	waitTime  int32
	backoff   time.Duration
	done      chan struct{}
}

// NewPageConsumer creates a consumer for queueURL.
func NewPageConsumer(client SQSAPI, queueURL string, resolver HandlerResolver, rdb redis.Cmdable, resultTTL time.Duration) *PageConsumer {
	if resultTTL <= 0 {
		resultTTL = 12 * time.Hour
	}
	return &PageConsumer{
		client:    client,
		queueURL:  queueURL,
		resolver:  resolver,
		rdb:       rdb,
		resultTTL: resultTTL,
		waitTime:  20,
		backoff:   5 * time.Second,
		done:      make(chan struct{}),
	}
}

// Start polls until ctx is cancelled or Stop is called.
func (c *PageConsumer) Start(ctx context.Context) {
	logger.Info("page consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

// Stop ends polling after the current batch.
func (c *PageConsumer) Stop() {
	close(c.done)
}

func (c *PageConsumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     c.waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("sqs receive failed", "queue", c.queueURL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handle(ctx, msg)
		}
	}
}

// handle processes one message. The message is deleted once its result
// is recorded, including failed pages; it is left for redelivery only
// when the result itself could not be stored.
func (c *PageConsumer) handle(ctx context.Context, msg types.Message) {
	task, err := fanout.DecodeTask(aws.ToString(msg.Body))
	if err != nil {
		logger.Error("dropping bad page task", "message_id", aws.ToString(msg.MessageId), "error", err)
		c.deleteMessage(ctx, msg.ReceiptHandle)
		return
	}

	var res reconcile.PageResult
	handler, err := c.resolver.PageHandler(task.CompanyID)
	if err == nil {
		res, err = handler.Handle(ctx, task, fanout.OpenActiveSet(c.rdb, task.SetKey))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("page task failed", "company_id", task.CompanyID, "run_id", task.RunID,
			"page", task.Page, "error", err)
	}

	if rerr := fanout.RecordPageResult(ctx, c.rdb, task.SetKey, res, err, c.resultTTL); rerr != nil {
		logger.Error("recording page result failed, leaving message", "run_id", task.RunID,
			"page", task.Page, "error", rerr)
		return
	}
	c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *PageConsumer) deleteMessage(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		logger.Warn("sqs delete failed", "queue", c.queueURL, "error", err)
	}
}
