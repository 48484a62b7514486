package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/fluid"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
	"github.com/ignite/exigo-bridge/internal/reconcile"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// fakePager serves customers with external IDs "1".."n".
type fakePager struct {
	n       int
	failOn  map[int]bool
	mu      sync.Mutex
	fetched []int
}

func (p *fakePager) ListCustomers(_ context.Context, page, perPage int) (fluid.CustomerPage, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, page)
	p.mu.Unlock()
	if p.failOn[page] {
		return fluid.CustomerPage{}, errors.New("fluid 503")
	}
	total := (p.n + perPage - 1) / perPage
	var customers []domain.Customer
	for i := (page-1)*perPage + 1; i <= min(page*perPage, p.n); i++ {
		customers = append(customers, domain.Customer{ID: fmt.Sprintf("c%d", i), ExternalID: fmt.Sprint(i)})
	}
	return fluid.CustomerPage{Customers: customers, Page: page, TotalPages: total}, nil
}

// setProcessor counts customers present in the shared set as processed.
type setProcessor struct{}

func (setProcessor) ProcessPage(ctx context.Context, customers []domain.Customer, active reconcile.ActiveSet) (reconcile.PageResult, error) {
	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = c.ExternalID
	}
	members, err := active.Members(ctx, ids)
	if err != nil {
		return reconcile.PageResult{}, err
	}
	res := reconcile.PageResult{Total: len(customers)}
	for _, m := range members {
		if m {
			res.Processed++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

type fakeBaseline struct {
	ids       domain.IDSet
	fetchErr  error
	committed []domain.IDSet
}

func (b *fakeBaseline) ActiveAutoship(context.Context) (domain.IDSet, error) {
	return b.ids, b.fetchErr
}

func (b *fakeBaseline) CommitSnapshot(_ context.Context, ids domain.IDSet) (*domain.AutoshipSnapshot, error) {
	b.committed = append(b.committed, ids)
	return &domain.AutoshipSnapshot{ID: fmt.Sprintf("snap-%d", len(b.committed)), ExternalIDs: ids.Sorted()}, nil
}

func TestRedisActiveSet_Members(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	set, err := PublishActiveSet(ctx, rdb, "autoship:acme:r1", domain.NewIDSet("10", "20"), time.Hour)
	require.NoError(t, err)
	assert.True(t, mr.Exists("autoship:acme:r1"))
	assert.Equal(t, time.Hour, mr.TTL("autoship:acme:r1"))

	got, err := OpenActiveSet(rdb, set.Key()).Members(ctx, []string{"10", "11", "20"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, got)

	require.NoError(t, set.Delete(ctx))
	_, err = set.Members(ctx, []string{"10"})
	assert.ErrorIs(t, err, ErrActiveSetMissing)
	assert.False(t, mr.Exists("autoship:acme:r1:ready"))
}

func TestRedisActiveSet_EmptySetIsReadable(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	set, err := PublishActiveSet(ctx, rdb, "autoship:acme:empty", domain.NewIDSet(), time.Hour)
	require.NoError(t, err)
	assert.True(t, mr.Exists("autoship:acme:empty:ready"))

	got, err := set.Members(ctx, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, got)
}

func TestRedisActiveSet_ExpiredSetIsAnError(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	set, err := PublishActiveSet(ctx, rdb, "autoship:acme:r2", domain.NewIDSet("1"), time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = set.Members(ctx, []string{"1"})
	assert.ErrorIs(t, err, ErrActiveSetMissing)
}

func TestPageHandler_MissingSetFailsThePage(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	key := ActiveSetKey("acme", "late")

	set, err := PublishActiveSet(ctx, rdb, key, domain.NewIDSet("1", "2", "3"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, set.Delete(ctx))

	h := NewPageHandler(&fakePager{n: 3}, setProcessor{})
	res, err := h.Handle(ctx, PageTask{CompanyID: "acme", SetKey: key, Page: 1, PerPage: 3}, OpenActiveSet(rdb, key))
	require.ErrorIs(t, err, ErrActiveSetMissing)
	assert.Zero(t, res.Total)

	require.NoError(t, RecordPageResult(ctx, rdb, key, res, err, time.Hour))
	p, err := ReadProgress(ctx, rdb, key)
	require.NoError(t, err)
	assert.Equal(t, 1, p.PagesFailed)
	assert.Zero(t, p.Result.Processed)
}

func TestOrchestrator_LocalRun(t *testing.T) {
	mr, rdb := newRedis(t)
	base := &fakeBaseline{ids: domain.NewIDSet("2", "5", "9", "100")}
	pager := &fakePager{n: 25}

	o, err := NewOrchestrator(Config{
		CompanyID: "acme", Baseline: base, Pager: pager, Processor: setProcessor{},
		Redis: rdb, PageSize: 10, Workers: 3,
	})
	require.NoError(t, err)

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Pages)
	assert.Equal(t, 3, out.PagesDone)
	assert.Equal(t, 25, out.Total)
	assert.Equal(t, 3, out.Processed, "2, 5 and 9 are active; 100 has no fluid customer")
	assert.Equal(t, 22, out.Skipped)
	assert.Equal(t, "snap-1", out.SnapshotID)
	require.Len(t, base.committed, 1)
	assert.Equal(t, 4, base.committed[0].Len())
	assert.False(t, mr.Exists(ActiveSetKey("acme", out.RunID)), "set removed after the run")
}

func TestOrchestrator_FailedPageSkipsSnapshot(t *testing.T) {
	_, rdb := newRedis(t)
	base := &fakeBaseline{ids: domain.NewIDSet("1")}
	o, err := NewOrchestrator(Config{
		CompanyID: "acme", Baseline: base, Pager: &fakePager{n: 30, failOn: map[int]bool{2: true}},
		Processor: setProcessor{}, Redis: rdb, PageSize: 10,
	})
	require.NoError(t, err)

	out, err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrIncomplete)
	assert.False(t, out.Success)
	assert.Equal(t, 2, out.PagesDone)
	assert.Equal(t, 1, out.PagesFailed)
	assert.Empty(t, base.committed)
}

func TestOrchestrator_FetchFailureIsFatal(t *testing.T) {
	_, rdb := newRedis(t)
	pager := &fakePager{n: 10}
	base := &fakeBaseline{fetchErr: reconcile.ErrFetchAutoship}
	o, err := NewOrchestrator(Config{CompanyID: "acme", Baseline: base, Pager: pager, Processor: setProcessor{}, Redis: rdb})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.ErrorIs(t, err, reconcile.ErrFetchAutoship)
	assert.Empty(t, pager.fetched, "no pages touched")
	assert.Empty(t, base.committed)
}

func TestOrchestrator_NoCustomers(t *testing.T) {
	_, rdb := newRedis(t)
	base := &fakeBaseline{ids: domain.NewIDSet("1")}
	o, err := NewOrchestrator(Config{CompanyID: "acme", Baseline: base, Pager: &fakePager{}, Processor: setProcessor{}, Redis: rdb})
	require.NoError(t, err)

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, out.Pages)
	assert.Len(t, base.committed, 1)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, rdb := newRedis(t)
	_, err := NewOrchestrator(Config{CompanyID: "acme"})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{CompanyID: "acme", Baseline: &fakeBaseline{}, Pager: &fakePager{},
		Processor: setProcessor{}, Redis: rdb, Mode: ModeSQS})
	assert.Error(t, err, "sqs mode without a queue")

	_, err = NewOrchestrator(Config{CompanyID: "acme", Baseline: &fakeBaseline{}, Pager: &fakePager{},
		Processor: setProcessor{}, Redis: rdb, Mode: "kafka"})
	assert.Error(t, err)
}

// loopbackQueue runs each published task immediately the way a
// PageConsumer would, recording results in Redis.
type loopbackQueue struct {
	rdb     *redis.Client
	handler *PageHandler
}

func (q *loopbackQueue) Publish(ctx context.Context, tasks []PageTask) (int, error) {
	for _, task := range tasks {
		res, err := q.handler.Handle(ctx, task, OpenActiveSet(q.rdb, task.SetKey))
		if err := RecordPageResult(ctx, q.rdb, task.SetKey, res, err, time.Hour); err != nil {
			return 0, err
		}
	}
	return len(tasks), nil
}

func TestOrchestrator_QueueRunAggregatesRemoteResults(t *testing.T) {
	_, rdb := newRedis(t)
	base := &fakeBaseline{ids: domain.NewIDSet("3", "14")}
	pager := &fakePager{n: 15}
	q := &loopbackQueue{rdb: rdb, handler: NewPageHandler(pager, setProcessor{})}

	o, err := NewOrchestrator(Config{
		CompanyID: "acme", Baseline: base, Pager: pager, Processor: setProcessor{},
		Redis: rdb, Mode: ModeSQS, Queue: q, PageSize: 5, PollEvery: time.Millisecond,
	})
	require.NoError(t, err)

	out, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.PagesDone)
	assert.Equal(t, 2, out.Processed)
	assert.Equal(t, 15, out.Total)
}

func TestOrchestrator_QueueTimeoutLeavesSnapshot(t *testing.T) {
	_, rdb := newRedis(t)
	base := &fakeBaseline{ids: domain.NewIDSet("3")}
	silent := publisherFunc(func(_ context.Context, tasks []PageTask) (int, error) { return len(tasks), nil })

	o, err := NewOrchestrator(Config{
		CompanyID: "acme", Baseline: base, Pager: &fakePager{n: 5}, Processor: setProcessor{},
		Redis: rdb, Mode: ModeSQS, Queue: silent, PollEvery: time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = o.Run(ctx)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, base.committed)
}

type publisherFunc func(context.Context, []PageTask) (int, error)

func (f publisherFunc) Publish(ctx context.Context, tasks []PageTask) (int, error) { return f(ctx, tasks) }

type fakeSQS struct {
	batches [][]types.SendMessageBatchRequestEntry
	failID  string
}

func (f *fakeSQS) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.batches = append(f.batches, in.Entries)
	out := &sqs.SendMessageBatchOutput{}
	for _, e := range in.Entries {
		if aws.ToString(e.Id) == f.failID {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: e.Id, Message: aws.String("too large")})
			continue
		}
		out.Successful = append(out.Successful, types.SendMessageBatchResultEntry{Id: e.Id})
	}
	return out, nil
}

func TestSQSQueue_PublishBatches(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/1/pages")

	tasks := make([]PageTask, 23)
	for i := range tasks {
		tasks[i] = PageTask{RunID: "r", CompanyID: "acme", SetKey: "autoship:acme:r", Page: i + 1, PerPage: 100}
	}
	sent, err := q.Publish(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 23, sent)
	require.Len(t, fake.batches, 3)
	assert.Len(t, fake.batches[2], 3)

	task, err := DecodeTask(aws.ToString(fake.batches[1][0].MessageBody))
	require.NoError(t, err)
	assert.Equal(t, 11, task.Page)
}

func TestSQSQueue_PartialFailure(t *testing.T) {
	fake := &fakeSQS{failID: "page-4"}
	q := NewSQSQueue(fake, "q")
	tasks := []PageTask{{Page: 1}, {Page: 2}, {Page: 3}, {Page: 4}}
	sent, err := q.Publish(context.Background(), tasks)
	require.Error(t, err)
	assert.Equal(t, 3, sent)
	assert.Contains(t, err.Error(), "too large")
}

func TestDecodeTask_Rejects(t *testing.T) {
	_, err := DecodeTask(`not json`)
	assert.Error(t, err)
	_, err = DecodeTask(`{"company_id":"acme","page":0,"set_key":"k"}`)
	assert.Error(t, err)
}
