package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS caps a batch at ten entries.
const sqsBatchSize = 10

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSQueue publishes page tasks for worker.PageConsumer.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue returns a publisher for queueURL.
func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// Publish sends every task. It stops at the first batch with a failed
// entry and reports how many tasks were accepted before it.
func (q *SQSQueue) Publish(ctx context.Context, tasks []PageTask) (int, error) {
	sent := 0
	for start := 0; start < len(tasks); start += sqsBatchSize {
		end := min(start+sqsBatchSize, len(tasks))
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for _, task := range tasks[start:end] {
			body, err := json.Marshal(task)
			if err != nil {
				return sent, fmt.Errorf("marshal page task: %w", err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String("page-" + strconv.Itoa(task.Page)),
				MessageBody: aws.String(string(body)),
			})
		}
		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return sent, fmt.Errorf("sqs send batch: %w", err)
		}
		sent += len(out.Successful)
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return sent, fmt.Errorf("sqs rejected %d page tasks, first %s: %s",
				len(out.Failed), aws.ToString(f.Id), aws.ToString(f.Message))
		}
	}
	return sent, nil
}

// DecodeTask parses a queue message body.
func DecodeTask(body string) (PageTask, error) {
	var task PageTask
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return PageTask{}, fmt.Errorf("decode page task: %w", err)
	}
	if task.CompanyID == "" || task.SetKey == "" || task.Page < 1 {
		return PageTask{}, fmt.Errorf("decode page task: incomplete task %+v", task)
	}
	return task, nil
}
