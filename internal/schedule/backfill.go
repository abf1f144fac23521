package schedule

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// BackfillOptions narrows a backfill run.
type BackfillOptions struct {
	// DoctorIDs limits the run to these doctors; empty means every doctor.
	DoctorIDs []uuid.UUID
	DryRun    bool
}

// BackfillResult lists the doctors that received the template.
type BackfillResult struct {
	Seeded []uuid.UUID
}

// Backfill applies tmpl to every doctor that has no work hours. Doctors with
// any existing window are left untouched.
func Backfill(ctx context.Context, db *sql.DB, tmpl WeeklyTemplate, opts BackfillOptions) (BackfillResult, error) {
	var result BackfillResult
	if len(tmpl) == 0 {
		return result, fmt.Errorf("schedule: backfill: empty template")
	}

	ids := make([]string, 0, len(opts.DoctorIDs))
	for _, id := range opts.DoctorIDs {
		ids = append(ids, id.String())
	}

	rows, err := db.QueryContext(ctx, `
		SELECT d.id
		FROM doctors d
		WHERE NOT EXISTS (SELECT 1 FROM doctor_work_hours w WHERE w.doctor_id = d.id)
		  AND (cardinality($1::uuid[]) = 0 OR d.id = ANY($1::uuid[]))
		ORDER BY d.created_at
	`, pq.Array(ids))
	if err != nil {
		return result, fmt.Errorf("schedule: backfill: list doctors: %w", err)
	}
	var pending []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return result, fmt.Errorf("schedule: backfill: scan doctor: %w", err)
		}
		pending = append(pending, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return result, fmt.Errorf("schedule: backfill: iterate doctors: %w", err)
	}
	_ = rows.Close()

	if opts.DryRun || len(pending) == 0 {
		result.Seeded = pending
		return result, nil
	}

	weekdays := make([]int64, len(tmpl))
	starts := make([]string, len(tmpl))
	ends := make([]string, len(tmpl))
	for i, d := range tmpl {
		weekdays[i] = int64(d.Weekday)
		starts[i] = d.Start.String()
		ends[i] = d.End.String()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("schedule: backfill: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO doctor_work_hours (doctor_id, weekday, start_time, end_time)
		SELECT $1, t.weekday, t.start_time::time, t.end_time::time
		FROM unnest($2::smallint[], $3::text[], $4::text[]) AS t(weekday, start_time, end_time)
		ON CONFLICT (doctor_id, weekday, start_time) DO NOTHING
	`
	for _, id := range pending {
		if _, err := tx.ExecContext(ctx, insert, id, pq.Array(weekdays), pq.Array(starts), pq.Array(ends)); err != nil {
			return result, fmt.Errorf("schedule: backfill: insert for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("schedule: backfill: commit: %w", err)
	}
	result.Seeded = pending
	return result, nil
}
