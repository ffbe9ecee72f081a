package api

import (
	"fmt"

	"routeplan/internal/geo"
	"routeplan/internal/model"
)

// OrderIn is the create-order request body. Location is optional: orders
// without coordinates are accepted but reported as unroutable at plan time.
type OrderIn struct {
	ID              string            `json:"id,omitempty"`
	Location        *geo.Point        `json:"location,omitempty"`
	Window          *model.TimeWindow `json:"timeWindow,omitempty"`
	Priority        model.Priority    `json:"priority,omitempty"`
	ParkingRequired bool              `json:"parkingRequired,omitempty"`
}

func (in OrderIn) validate() error {
	if in.Location != nil {
		if err := validatePoint(*in.Location); err != nil {
			return err
		}
	}
	switch in.Priority {
	case "", model.PriorityLow, model.PriorityNormal, model.PriorityHigh, model.PriorityUrgent:
	default:
		return fmt.Errorf("unknown priority %q", in.Priority)
	}
	if in.Window != nil && in.Window.Start != nil && in.Window.End != nil && in.Window.End.Before(*in.Window.Start) {
		return fmt.Errorf("time window ends before it starts")
	}
	return nil
}

func (in OrderIn) toModel() model.Order {
	p := in.Priority
	if p == "" {
		p = model.PriorityNormal
	}
	return model.Order{
		ID:              in.ID,
		Location:        in.Location,
		Window:          in.Window,
		Priority:        p,
		Status:          model.OrderPending,
		ParkingRequired: in.ParkingRequired,
	}
}

type DriverIn struct {
	ID       string     `json:"id,omitempty"`
	Name     string     `json:"name,omitempty"`
	Status   string     `json:"status,omitempty"`
	Location *geo.Point `json:"location,omitempty"`
}

func (in DriverIn) validate() error {
	switch in.Status {
	case "", model.DriverAvailable, model.DriverOnRoute, model.DriverOffline:
	default:
		return fmt.Errorf("unknown driver status %q", in.Status)
	}
	if in.Location != nil {
		return validatePoint(*in.Location)
	}
	return nil
}

type SiteIn struct {
	Name     string    `json:"name,omitempty"`
	Location geo.Point `json:"location"`
}

func validatePoint(pt geo.Point) error {
	if pt.Lat < -90 || pt.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", pt.Lat)
	}
	if pt.Lon < -180 || pt.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", pt.Lon)
	}
	return nil
}
