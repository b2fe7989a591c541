package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const probeJobColumns = `payment_id, gateway, reference, attempts, next_fire_at, armed_at, exhausted, reported_at, updated_at`

// ProbeJobRepository is the durable side of the status probe scheduler.
type ProbeJobRepository struct {
	db DBTX
}

func NewProbeJobRepository(db DBTX) *ProbeJobRepository {
	return &ProbeJobRepository{db: db}
}

// Save upserts the job. A re-armed job starts over as active.
func (r *ProbeJobRepository) Save(ctx context.Context, job *entity.ProbeJob) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}

	update := `
		UPDATE probe_jobs SET
			gateway = ?, reference = ?, attempts = ?, next_fire_at = ?, armed_at = ?,
			exhausted = 0, reported_at = NULL, updated_at = ?
		WHERE payment_id = ?
	`
	args := []interface{}{job.Gateway, job.Reference, job.Attempts, job.NextFireAt, job.ArmedAt, job.UpdatedAt, job.PaymentID}

	for attempt := 0; attempt < 2; attempt++ {
		result, err := r.db.ExecContext(ctx, update, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO probe_jobs (`+probeJobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?)
		`, job.PaymentID, job.Gateway, job.Reference, job.Attempts, job.NextFireAt, job.ArmedAt, job.UpdatedAt)
		if err == nil {
			return nil
		}
		// Either the row exists unchanged or a concurrent insert won.
		if !isDuplicateEntryError(err) {
			return err
		}
	}
	return nil
}

func (r *ProbeJobRepository) Delete(ctx context.Context, paymentID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM probe_jobs WHERE payment_id = ?`, paymentID)
	return err
}

func (r *ProbeJobRepository) MarkExhausted(ctx context.Context, paymentID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE probe_jobs SET exhausted = 1, updated_at = ? WHERE payment_id = ?`,
		time.Now().UTC(), paymentID,
	)
	return err
}

func (r *ProbeJobRepository) MarkReported(ctx context.Context, paymentID uint64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE probe_jobs SET reported_at = ?, updated_at = ? WHERE payment_id = ?`,
		at, at, paymentID,
	)
	return err
}

func (r *ProbeJobRepository) ListActive(ctx context.Context) ([]*entity.ProbeJob, error) {
	return r.list(ctx, `SELECT `+probeJobColumns+` FROM probe_jobs WHERE exhausted = 0 ORDER BY next_fire_at ASC`)
}

// ListUnreported returns exhausted jobs that have not been reported yet.
func (r *ProbeJobRepository) ListUnreported(ctx context.Context, limit int32) ([]*entity.ProbeJob, error) {
	return r.list(ctx,
		`SELECT `+probeJobColumns+` FROM probe_jobs WHERE exhausted = 1 AND reported_at IS NULL ORDER BY updated_at ASC LIMIT ?`,
		limit,
	)
}

func (r *ProbeJobRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ProbeJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*entity.ProbeJob, 0)
	for rows.Next() {
		job := &entity.ProbeJob{}
		var reportedAt sql.NullTime
		if err := rows.Scan(
			&job.PaymentID,
			&job.Gateway,
			&job.Reference,
			&job.Attempts,
			&job.NextFireAt,
			&job.ArmedAt,
			&job.Exhausted,
			&reportedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		job.ReportedAt = timePtrFromNull(reportedAt)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}
