package seed

import (
	"github.com/hackgods/specialist-booking/internal/store/memory"
)

// LoadMemory copies the dataset into an in-memory store.
func LoadMemory(store *memory.Store, ds Dataset) error {
	for _, sp := range ds.Specialists {
		store.AddSpecialist(sp)
	}
	for _, p := range ds.Patients {
		store.AddPatient(p)
	}
	for _, t := range ds.Templates {
		if _, err := store.AddTemplate(t); err != nil {
			return err
		}
	}
	return nil
}
