package main

import (
	"time"

	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/memstore"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/timegrid"
)

// seedDemo gives STORE_DRIVER=memory one bookable barber so the API is usable without a database.
func seedDemo(store *memstore.Store) error {
	var weekly []timegrid.WeeklyWindow
	for d := time.Monday; d <= time.Friday; d++ {
		weekly = append(weekly, timegrid.WeeklyWindow{Weekday: d, Window: timegrid.Window{Start: timegrid.Clock(9, 0), End: timegrid.Clock(17, 0)}})
	}
	weekly = append(weekly, timegrid.WeeklyWindow{Weekday: time.Saturday, Window: timegrid.Window{Start: timegrid.Clock(10, 0), End: timegrid.Clock(14, 0)}})

	schedule, err := timegrid.NewSchedule(timegrid.Config{
		StaffID:     "A",
		Granularity: 30 * time.Minute,
		Weekly:      weekly,
	})
	if err != nil {
		return err
	}
	store.PutSchedule(schedule)
	store.PutService(model.Service{ID: "haircut", Name: "Haircut", Duration: 30 * time.Minute, PriceCents: 2500})
	store.PutService(model.Service{ID: "beard-trim", Name: "Beard trim", Duration: 45 * time.Minute, PriceCents: 1500})
	return nil
}
