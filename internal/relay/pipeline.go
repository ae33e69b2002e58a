package relay

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

// Deliverer is the delivery-identity side of the pipeline: it uploads content
// into the intermediary group and copies staged messages to the requester.
// Implemented by the bot front-end.
type Deliverer interface {
	Stage(ctx context.Context, media *telegram.Media, content io.Reader) (int, error)
	Deliver(ctx context.Context, requester int64, intermediaryID int) error
}

// PipelineConfig carries the pipeline tunables.
type PipelineConfig struct {
	IntermediaryGroupID int64
	Concurrency         int
	QueueDepth          int
	TransferRetries     int
	MaxFileBytes        int64
	ChunkBytes          int
}

// Pipeline executes relay jobs: fetch through the relay identity, stage into
// the intermediary group, deliver to the requester. Jobs queue FIFO and at
// most cfg.Concurrency run at once.
type Pipeline struct {
	manager  *Manager
	delivery Deliverer
	logs     storage.ForwardLogStore
	cfg      PipelineConfig

	// Done, when set, is invoked once per job after it reaches a terminal
	// state. Set it before Start.
	Done func(*Job)

	queue chan *Job
	wg    sync.WaitGroup

	activeMu sync.Mutex
	active   map[int64]bool
}

// NewPipeline creates the pipeline; call Start to launch the workers.
func NewPipeline(manager *Manager, delivery Deliverer, logs storage.ForwardLogStore, cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueDepth < cfg.Concurrency {
		cfg.QueueDepth = cfg.Concurrency
	}
	ensureMetrics()

	return &Pipeline{
		manager:  manager,
		delivery: delivery,
		logs:     logs,
		cfg:      cfg,
		queue:    make(chan *Job, cfg.QueueDepth),
		active:   make(map[int64]bool),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					queueDepthGauge.Dec()
					p.run(ctx, job)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Submit admits one job for the user. It verifies the relay connection is
// acquirable, enforces the per-user single-job rule and the queue ceiling.
func (p *Pipeline) Submit(ctx context.Context, userID int64, username string, ref telegram.Reference) (*Job, error) {
	p.activeMu.Lock()
	if p.active[userID] {
		p.activeMu.Unlock()
		return nil, ErrUserBusy
	}
	p.active[userID] = true
	p.activeMu.Unlock()

	admitted := false
	defer func() {
		if !admitted {
			p.clearActive(userID)
		}
	}()

	// Establishing (or reusing) the connection up front surfaces
	// NotAuthenticated / SessionInvalidated at submission time.
	if _, err := p.manager.Acquire(ctx, userID); err != nil {
		return nil, err
	}
	p.manager.Release(userID)

	job := &Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		Username:  username,
		Ref:       ref,
		CreatedAt: time.Now(),
		status:    StatusPending,
	}

	select {
	case p.queue <- job:
		queueDepthGauge.Inc()
		admitted = true
	default:
		return nil, ErrQueueFull
	}

	log.Info().
		Str("job_id", job.ID).
		Int64("user_id", userID).
		Int("msg_id", ref.MsgID).
		Msg("relay job admitted")
	return job, nil
}

func (p *Pipeline) clearActive(userID int64) {
	p.activeMu.Lock()
	delete(p.active, userID)
	p.activeMu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, job *Job) {
	started := time.Now()
	defer func() {
		p.clearActive(job.UserID)
		observeJobDone(job.Status(), started)
		if p.Done != nil {
			p.Done(job)
		}
	}()

	client, err := p.manager.Acquire(ctx, job.UserID)
	if err != nil {
		job.fail(err)
		p.logTerminal(job)
		return
	}
	defer p.manager.Release(job.UserID)

	if err := p.fetch(ctx, job, client); err != nil {
		job.fail(err)
		p.logTerminal(job)
		return
	}

	if err := p.stage(ctx, job, client); err != nil {
		job.fail(err)
		p.logTerminal(job)
		return
	}

	if err := p.deliver(ctx, job); err != nil {
		job.fail(err)
		p.logTerminal(job)
		return
	}

	p.logTerminal(job)
}

// fetch retrieves the content descriptor with bounded backoff. AccessDenied
// is never retried.
func (p *Pipeline) fetch(ctx context.Context, job *Job, client telegram.RelayClient) error {
	var media *telegram.Media
	op := func() error {
		m, err := client.FetchMessage(ctx, job.Ref)
		if err != nil {
			if errors.Is(err, telegram.ErrAccessDenied) || errors.Is(err, telegram.ErrNoMedia) {
				return backoff.Permanent(err)
			}
			return err
		}
		media = m
		return nil
	}

	if err := backoff.Retry(op, p.newBackOff(ctx)); err != nil {
		if errors.Is(err, telegram.ErrAccessDenied) || errors.Is(err, telegram.ErrNoMedia) {
			return err
		}
		return errors.Wrap(ErrFetchFailed, err.Error())
	}

	if p.cfg.MaxFileBytes > 0 && media.Size > p.cfg.MaxFileBytes {
		return errors.Wrapf(ErrFileTooLarge, "%d bytes, limit %d", media.Size, p.cfg.MaxFileBytes)
	}

	job.setMedia(media)
	return job.transition(StatusFetched)
}

// stage streams the payload into the intermediary group. Each retry restarts
// the source stream from the beginning; a duplicate intermediary copy after a
// partial upload is accepted, lost payload is not.
func (p *Pipeline) stage(ctx context.Context, job *Job, client telegram.RelayClient) error {
	media := job.Media()

	var intermediaryID int
	op := func() error {
		content := openMediaStream(ctx, client, media, p.cfg.ChunkBytes)
		defer content.Close()

		id, err := p.delivery.Stage(ctx, media, content)
		if err != nil {
			return err
		}
		intermediaryID = id
		return nil
	}

	if err := backoff.Retry(op, p.newBackOff(ctx)); err != nil {
		return errors.Wrap(ErrStageFailed, err.Error())
	}

	job.setIntermediaryID(intermediaryID)
	if err := job.transition(StatusStaged); err != nil {
		return err
	}

	p.appendForwardLog(ctx, job)
	return nil
}

// deliver copies the staged message to the requester. Single shot: a failure
// is terminal and the user may resubmit the link.
func (p *Pipeline) deliver(ctx context.Context, job *Job) error {
	if err := p.delivery.Deliver(ctx, job.UserID, job.IntermediaryID()); err != nil {
		return errors.Wrap(ErrDeliveryFailed, err.Error())
	}
	return job.transition(StatusDelivered)
}

func (p *Pipeline) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.cfg.TransferRetries)), ctx)
}

func (p *Pipeline) appendForwardLog(ctx context.Context, job *Job) {
	media := job.Media()
	entry := &storage.ForwardLog{
		JobID:          job.ID,
		Username:       job.Username,
		IntermediaryID: job.IntermediaryID(),
		FileName:       media.Name,
		FileSize:       media.Size,
		SourceName:     media.SourceName,
		MessageLink:    p.intermediaryLink(job.IntermediaryID()),
		Timestamp:      time.Now(),
	}
	if err := p.logs.AppendForwardLog(ctx, entry); err != nil {
		log.Warn().Str("job_id", job.ID).Err(err).Msg("failed to append forward log")
	}
}

// intermediaryLink builds the t.me/c permalink of a staged message. t.me/c
// links address supergroups, whose Bot API chat ids carry a -100 prefix; any
// other id shape only loses its sign so the link stays well formed.
func (p *Pipeline) intermediaryLink(msgID int) string {
	id := strconv.FormatInt(p.cfg.IntermediaryGroupID, 10)
	internal := strings.TrimPrefix(id, "-100")
	if internal == id || internal == "" {
		internal = strings.TrimPrefix(id, "-")
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, msgID)
}

func (p *Pipeline) logTerminal(job *Job) {
	event := log.Info()
	if job.Status() == StatusFailed {
		event = log.Warn().Err(job.FailureReason())
	}
	event.
		Str("job_id", job.ID).
		Int64("user_id", job.UserID).
		Str("status", string(job.Status())).
		Int("intermediary_id", job.IntermediaryID()).
		Msg("relay job finished")
}
