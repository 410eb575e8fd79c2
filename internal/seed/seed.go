// Package seed generates a fake but plausible clinic: specialists with
// weekly availability, and patients to book them.
package seed

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

var timezones = []string{
	"UTC",
	"Europe/Madrid",
	"America/New_York",
	"America/Sao_Paulo",
	"Asia/Kolkata",
}

// shifts are [start, end) minute windows a specialist may work.
var shifts = [][2]int{
	{9 * 60, 12 * 60},
	{13 * 60, 17 * 60},
	{8 * 60, 14 * 60},
	{15 * 60, 20 * 60},
}

var slotLengths = []int{15, 20, 30, 45, 60}

type Dataset struct {
	Specialists []booking.Specialist
	Patients    []booking.Patient
	Templates   []schedule.Template
}

type Options struct {
	Specialists int
	Patients    int
	// Seed makes the dataset reproducible. 0 picks a random seed.
	Seed uint64
}

func Generate(opts Options) Dataset {
	f := gofakeit.New(opts.Seed)
	now := time.Now().UTC()

	var ds Dataset
	for i := 0; i < opts.Specialists; i++ {
		sp := booking.Specialist{
			ID:             uuid.New(),
			Name:           "Dr. " + f.Name(),
			ContactChannel: fmt.Sprintf("specialist-%d-%s", i, f.Phone()),
			Timezone:       timezones[f.Number(0, len(timezones)-1)],
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		ds.Specialists = append(ds.Specialists, sp)
		ds.Templates = append(ds.Templates, weekTemplates(f, sp.ID)...)
	}

	for i := 0; i < opts.Patients; i++ {
		email := f.Email()
		ds.Patients = append(ds.Patients, booking.Patient{
			ID:             uuid.New(),
			Name:           f.Name(),
			ContactChannel: fmt.Sprintf("%d.%s", i, email),
			Email:          &email,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	return ds
}

// weekTemplates gives a specialist one or two shifts on each working day.
func weekTemplates(f *gofakeit.Faker, specialistID uuid.UUID) []schedule.Template {
	slot := slotLengths[f.Number(0, len(slotLengths)-1)]

	var out []schedule.Template
	for day := time.Monday; day <= time.Friday; day++ {
		first := f.Number(0, len(shifts)-1)
		picked := []int{first}
		// 0 and 1 do not overlap, so they can share a day
		if first == 0 && f.Bool() {
			picked = append(picked, 1)
		}

		for _, idx := range picked {
			out = append(out, schedule.Template{
				ID:           uuid.New(),
				SpecialistID: specialistID,
				Weekday:      day,
				StartMinute:  shifts[idx][0],
				EndMinute:    shifts[idx][1],
				SlotMinutes:  slot,
				Active:       true,
			})
		}
	}
	return out
}
