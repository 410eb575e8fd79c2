package reminder

import (
	"fmt"
	"time"
)

const messageTimeLayout = "Mon 02 Jan 2006 15:04"

// Message renders the fixed text sent for a delivery.
func Message(d Delivery) string {
	start := d.AppointmentStart
	if loc, err := time.LoadLocation(d.Timezone); err == nil && d.Timezone != "" {
		start = start.In(loc)
	}
	when := start.Format(messageTimeLayout)

	switch d.Kind {
	case KindDayBefore:
		return fmt.Sprintf("Hi %s, reminder: you have an appointment with %s tomorrow, %s.", d.PatientName, d.SpecialistName, when)
	case KindHourBefore:
		return fmt.Sprintf("Hi %s, your appointment with %s starts in one hour (%s).", d.PatientName, d.SpecialistName, when)
	case KindConfirmation:
		return fmt.Sprintf("Hi %s, your appointment with %s on %s is confirmed.", d.PatientName, d.SpecialistName, when)
	case KindFollowUp:
		return fmt.Sprintf("Hi %s, thanks for your visit to %s on %s. Reply to book a follow-up.", d.PatientName, d.SpecialistName, when)
	default:
		return fmt.Sprintf("Hi %s, about your appointment with %s on %s.", d.PatientName, d.SpecialistName, when)
	}
}
