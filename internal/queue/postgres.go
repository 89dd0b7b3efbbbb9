package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/globaltime"
)

// Postgres stores jobs in zeke.jobs and claims them with FOR UPDATE SKIP LOCKED.
type Postgres struct {
	pool       *db.Pool
	retryLimit int
	retryDelay time.Duration
}

func NewPostgres(pool *db.Pool, retryLimit int, retryDelay time.Duration) *Postgres {
	if retryLimit < 0 {
		retryLimit = DefaultRetryLimit
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Postgres{pool: pool, retryLimit: retryLimit, retryDelay: retryDelay}
}

const jobColumns = `
	job_id::text,
	topic,
	payload,
	state::text,
	COALESCE(ref, ''),
	retry_count,
	retry_limit,
	retry_delay_seconds,
	start_after,
	started_at,
	completed_at,
	output,
	COALESCE(last_error, ''),
	created_at,
	updated_at`

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(row jobScanner) (Job, error) {
	var (
		job          Job
		payload      datatypes.JSONMap
		output       datatypes.JSONMap
		state        string
		delaySeconds int
	)
	err := row.Scan(
		&job.ID,
		&job.Topic,
		&payload,
		&state,
		&job.Ref,
		&job.RetryCount,
		&job.RetryLimit,
		&delaySeconds,
		&job.StartAfter,
		&job.StartedAt,
		&job.CompletedAt,
		&output,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	job.Payload = map[string]any(payload)
	job.Output = map[string]any(output)
	job.State = State(state)
	job.RetryDelay = time.Duration(delaySeconds) * time.Second
	return job, nil
}

func (q *Postgres) Enqueue(ctx context.Context, topic string, payload map[string]any, opts EnqueueOptions) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}

	retryLimit := q.retryLimit
	if opts.RetryLimit != nil {
		retryLimit = *opts.RetryLimit
	}
	retryDelay := q.retryDelay
	if opts.RetryDelay > 0 {
		retryDelay = opts.RetryDelay
	}
	now := globaltime.UTC()
	startAfter := now
	if !opts.StartAfter.IsZero() {
		startAfter = opts.StartAfter.UTC()
	}
	var ref *string
	if trimmed := strings.TrimSpace(opts.Ref); trimmed != "" {
		ref = &trimmed
	}
	body := datatypes.JSONMap(payload)
	if body == nil {
		body = datatypes.JSONMap{}
	}

	const insertQ = `
INSERT INTO zeke.jobs (
	job_id,
	topic,
	payload,
	state,
	ref,
	retry_limit,
	retry_delay_seconds,
	start_after,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, 'created', $4, $5, $6, $7, $8, $8)
`
	id := uuid.NewString()
	if _, err := q.pool.Exec(ctx, insertQ, id, topic, body, ref, retryLimit, int(retryDelay/time.Second), startAfter, now); err != nil {
		return "", fmt.Errorf("enqueue topic=%s: %w", topic, err)
	}
	return id, nil
}

func (q *Postgres) Schedule(ctx context.Context, s Schedule) error {
	if strings.TrimSpace(s.Topic) == "" || strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("schedule requires topic, name and cron")
	}
	payload := datatypes.JSONMap(s.Payload)
	if payload == nil {
		payload = datatypes.JSONMap{}
	}

	const upsertQ = `
INSERT INTO zeke.job_schedules (topic, name, cron, payload, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (topic, name) DO UPDATE SET
	cron = EXCLUDED.cron,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at
`
	if _, err := q.pool.Exec(ctx, upsertQ, s.Topic, s.Name, s.Cron, payload, globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert schedule %s/%s: %w", s.Topic, s.Name, err)
	}
	return nil
}

func (q *Postgres) Schedules(ctx context.Context) ([]Schedule, error) {
	rows, err := q.pool.Query(ctx, `SELECT topic, name, cron, payload FROM zeke.job_schedules ORDER BY topic, name`)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	out := make([]Schedule, 0, 8)
	for rows.Next() {
		var s Schedule
		var payload datatypes.JSONMap
		if err := rows.Scan(&s.Topic, &s.Name, &s.Cron, &payload); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		s.Payload = map[string]any(payload)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

func (q *Postgres) FetchBatch(ctx context.Context, topic string, n int) ([]Job, error) {
	if n <= 0 {
		return nil, nil
	}

	claimQ := `
UPDATE zeke.jobs
SET state = 'active', started_at = $3, updated_at = $3
WHERE job_id IN (
	SELECT job_id
	FROM zeke.jobs
	WHERE topic = $1
		AND state IN ('created', 'retry')
		AND start_after <= $3
	ORDER BY created_at, job_id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING` + jobColumns

	var out []Job
	err := q.pool.InTx(ctx, func(tx db.Tx) error {
		rows, err := tx.Query(ctx, claimQ, topic, n, globaltime.UTC())
		if err != nil {
			return fmt.Errorf("claim jobs topic=%s: %w", topic, err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return fmt.Errorf("scan claimed job: %w", err)
			}
			out = append(out, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Postgres) Complete(ctx context.Context, id string, output map[string]any) error {
	const completeQ = `
UPDATE zeke.jobs
SET state = 'completed', completed_at = $2, updated_at = $2, output = $3
WHERE job_id = $1::uuid AND state = 'active'
`
	tag, err := q.pool.Exec(ctx, completeQ, id, globaltime.UTC(), nullableJSON(output))
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return q.transitionError(ctx, id, "complete")
	}
	return nil
}

func (q *Postgres) Fail(ctx context.Context, id string, cause error, output map[string]any) error {
	const failQ = `
UPDATE zeke.jobs
SET
	state = CASE WHEN retry_count < retry_limit THEN 'retry' ELSE 'failed' END::zeke.job_state,
	start_after = CASE
		WHEN retry_count < retry_limit
			THEN $2 + make_interval(secs => retry_delay_seconds * power(2, LEAST(retry_count, 16)))
		ELSE start_after
	END,
	completed_at = CASE WHEN retry_count < retry_limit THEN NULL ELSE $2 END,
	retry_count = CASE WHEN retry_count < retry_limit THEN retry_count + 1 ELSE retry_count END,
	last_error = $3,
	output = $4,
	updated_at = $2
WHERE job_id = $1::uuid AND state = 'active'
`
	tag, err := q.pool.Exec(ctx, failQ, id, globaltime.UTC(), errorText(cause), nullableJSON(output))
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return q.transitionError(ctx, id, "fail")
	}
	return nil
}

func (q *Postgres) Cancel(ctx context.Context, id string) error {
	const cancelQ = `
UPDATE zeke.jobs
SET state = 'cancelled', completed_at = $2, updated_at = $2
WHERE job_id = $1::uuid AND state IN ('created', 'retry', 'active')
`
	tag, err := q.pool.Exec(ctx, cancelQ, id, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (q *Postgres) Get(ctx context.Context, id string) (Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Job{}, ErrJobNotFound
	}
	job, err := scanJob(q.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM zeke.jobs WHERE job_id = $1::uuid`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (q *Postgres) LatestByRef(ctx context.Context, ref string) (Job, error) {
	latestQ := `SELECT` + jobColumns + `
FROM zeke.jobs
WHERE ref = $1
ORDER BY created_at DESC, job_id DESC
LIMIT 1
`
	job, err := scanJob(q.pool.QueryRow(ctx, latestQ, ref))
	if err != nil {
		if db.IsNoRows(err) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("latest job ref=%s: %w", ref, err)
	}
	return job, nil
}

func (q *Postgres) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	const staleQ = `
UPDATE zeke.jobs
SET state = 'retry', start_after = $2, updated_at = $2
WHERE state = 'active' AND started_at < $1
`
	tag, err := q.pool.Exec(ctx, staleQ, cutoff.UTC(), globaltime.UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *Postgres) transitionError(ctx context.Context, id, action string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s job %s: state is %s", action, id, job.State)
}

func nullableJSON(m map[string]any) any {
	if m == nil {
		return nil
	}
	return datatypes.JSONMap(m)
}
