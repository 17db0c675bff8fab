package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lamina/internal/httpkit"
	"lamina/internal/models"
)

var ErrPresetNotFound = errors.New("preset not found")
var ErrPresetExists = errors.New("preset already exists for printer")

// PresetStore persists printer presets. Rows are immutable once published:
// there is no update path, only create and delete.
type PresetStore struct {
	db *pgxpool.Pool
}

func NewPresetStore(db *pgxpool.Pool) *PresetStore {
	return &PresetStore{db: db}
}

func (s *PresetStore) Create(ctx context.Context, p *models.Preset) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO presets (printer_id, bundle_ref, params_ref, target_format, bundle_sha256,
		                     printer_profile, print_profile, material_profile)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),NULLIF($8,''))
		RETURNING created_at
	`, p.PrinterID, p.BundleRef, p.ParamsRef, p.TargetFormat, p.BundleSHA256,
		p.PrinterProfile, p.PrintProfile, p.MaterialProfile).Scan(&p.CreatedAt)

	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return ErrPresetExists
		}
		return err
	}
	return nil
}

func (s *PresetStore) Get(ctx context.Context, printerID string) (*models.Preset, error) {
	var p models.Preset
	err := s.db.QueryRow(ctx, `
		SELECT printer_id, bundle_ref, params_ref, target_format,
		       COALESCE(bundle_sha256,''), COALESCE(printer_profile,''),
		       COALESCE(print_profile,''), COALESCE(material_profile,''), created_at
		FROM presets WHERE printer_id=$1
	`, models.NormalizePrinterID(printerID)).Scan(
		&p.PrinterID, &p.BundleRef, &p.ParamsRef, &p.TargetFormat,
		&p.BundleSHA256, &p.PrinterProfile,
		&p.PrintProfile, &p.MaterialProfile, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPresetNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PresetStore) List(ctx context.Context) ([]models.Preset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT printer_id, bundle_ref, params_ref, target_format, created_at
		FROM presets ORDER BY printer_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Preset
	for rows.Next() {
		var p models.Preset
		if err := rows.Scan(&p.PrinterID, &p.BundleRef, &p.ParamsRef, &p.TargetFormat, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PresetStore) Delete(ctx context.Context, printerID string) error {
	cmd, err := s.db.Exec(ctx, `
		DELETE FROM presets WHERE printer_id=$1
	`, models.NormalizePrinterID(printerID))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPresetNotFound
	}
	return nil
}
