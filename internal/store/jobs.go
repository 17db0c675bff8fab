package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lamina/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore is the row-oriented persistence layer for jobs. The worker's
// ledger writes and the API handlers both go through it.
type JobStore struct {
	db *pgxpool.Pool
}

func NewJobStore(db *pgxpool.Pool) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, j *models.Job) error {
	overrides, err := json.Marshal(j.ParamOverrides)
	if err != nil {
		return fmt.Errorf("marshal param_overrides: %w", err)
	}

	return s.db.QueryRow(ctx, `
		INSERT INTO jobs (id, model_ref, printer_id, print_profile, material_profile, param_overrides, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, j.ID, j.ModelRef, j.PrinterID, j.PrintProfile, j.MaterialProfile, string(overrides), string(j.Status)).
		Scan(&j.CreatedAt)
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var (
		j         models.Job
		status    string
		overrides []byte
		report    []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, model_ref, printer_id, COALESCE(print_profile,''), COALESCE(material_profile,''),
		       COALESCE(param_overrides,'{}'::jsonb), status, COALESCE(error_text,''),
		       COALESCE(report,'null'::jsonb),
		       COALESCE(native_ref,''), COALESCE(project_ref,''), COALESCE(layers_ref,''),
		       created_at, started_at, finished_at
		FROM jobs WHERE id=$1
	`, id).Scan(
		&j.ID, &j.ModelRef, &j.PrinterID, &j.PrintProfile, &j.MaterialProfile,
		&overrides, &status, &j.Error,
		&report,
		&j.NativeRef, &j.ProjectRef, &j.LayersRef,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	j.Status = models.ToStatus(status)
	_ = json.Unmarshal(overrides, &j.ParamOverrides)
	_ = json.Unmarshal(report, &j.Report)
	return &j, nil
}

func (s *JobStore) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.Query(ctx, `
			SELECT id, printer_id, status, COALESCE(error_text,''), created_at
			FROM jobs WHERE status=$1
			ORDER BY created_at DESC LIMIT $2
		`, status, limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, printer_id, status, COALESCE(error_text,''), created_at
			FROM jobs
			ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var (
			j      models.Job
			status string
		)
		if err := rows.Scan(&j.ID, &j.PrinterID, &status, &j.Error, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Status = models.ToStatus(status)
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkProcessing transitions the job to processing and clears any previous
// terminal outcome so a requeued job starts from a clean slate.
func (s *JobStore) MarkProcessing(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status=$2, started_at=NOW(), finished_at=NULL,
		    error_text=NULL, report=NULL,
		    native_ref=NULL, project_ref=NULL, layers_ref=NULL
		WHERE id=$1
	`, id, string(models.StatusProcessing))
	return err
}

// MarkFailed records a terminal failure. errorText must be non-empty and
// begin with the error-kind tag.
func (s *JobStore) MarkFailed(ctx context.Context, id string, errorText string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status=$2, finished_at=NOW(), error_text=$3 WHERE id=$1
	`, id, string(models.StatusFailed), errorText)
	return err
}

// MarkSucceeded records a terminal success (full or degraded) with the
// report and discovered artifact references.
func (s *JobStore) MarkSucceeded(ctx context.Context, id string, st models.Status, report *models.JobReport, nativeRef, projectRef, layersRef string) error {
	if !st.IsTerminal() || st == models.StatusFailed {
		return fmt.Errorf("not a success status: %s", st)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE jobs
		SET status=$2, finished_at=NOW(), error_text=NULL, report=$3,
		    native_ref=NULLIF($4,''), project_ref=NULLIF($5,''), layers_ref=NULLIF($6,'')
		WHERE id=$1
	`, id, string(st), string(reportJSON), nativeRef, projectRef, layersRef)
	return err
}

// Requeue resets a terminal job back to queued. Returns ErrJobNotFound if
// the row does not exist or the job is still being processed.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE jobs SET status=$2, started_at=NULL, finished_at=NULL
		WHERE id=$1 AND status <> $3
	`, id, string(models.StatusQueued), string(models.StatusProcessing))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
