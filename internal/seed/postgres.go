package seed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const batchSize = 500

// WritePostgres inserts the dataset. Specialists and their templates go in
// one transaction, patients in batches of batchSize.
func WritePostgres(ctx context.Context, pool *pgxpool.Pool, ds Dataset, log zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, sp := range ds.Specialists {
		_, err := tx.Exec(ctx, `
			INSERT INTO specialists (id, name, contact_channel, timezone, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sp.ID, sp.Name, sp.ContactChannel, sp.Timezone, sp.Active, sp.CreatedAt, sp.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert specialist: %w", err)
		}
	}

	for _, t := range ds.Templates {
		_, err := tx.Exec(ctx, `
			INSERT INTO availability_templates (id, specialist_id, weekday, start_minute, end_minute, slot_minutes, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, t.ID, t.SpecialistID, int16(t.Weekday), t.StartMinute, t.EndMinute, t.SlotMinutes, t.Active)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Info().Int("specialists", len(ds.Specialists)).Int("templates", len(ds.Templates)).Msg("specialists seeded")

	count := len(ds.Patients)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for _, p := range ds.Patients[offset:end] {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, contact_channel, email, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, p.ID, p.Name, p.ContactChannel, p.Email, p.CreatedAt, p.UpdatedAt)
			if err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("insert patient: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info().Msgf("patients seeded: %d/%d", end, count)
	}

	return nil
}
