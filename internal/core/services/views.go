package services

import (
	"fmt"
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

// View is a dashboard the agent keeps fresh. Each view subscribes to the poll
// resources it shows. The forecasting and ward_utilization views derive their
// figures from beds; the analytics reports behind them are fetched on demand.
type View string

const (
	ViewER              View = "er"
	ViewForecasting     View = "forecasting"
	ViewManager         View = "manager"
	ViewWardUtilization View = "ward_utilization"
	ViewWardStaff       View = "ward_staff"
	ViewAdmin           View = "admin"
)

const healthInterval = 5 * time.Second

// Subscription is one resource a view polls and how often.
type Subscription struct {
	Resource string
	Interval time.Duration
}

var viewSubscriptions = map[View][]Subscription{
	ViewER: {
		{ResourceBeds, 10 * time.Second},
		{ResourceRequests, 10 * time.Second},
	},
	ViewForecasting: {
		{ResourceBeds, 10 * time.Second},
	},
	ViewManager: {
		{ResourceBeds, 30 * time.Second},
		{ResourceAlerts, 30 * time.Second},
		{ResourceRequests, 30 * time.Second},
	},
	ViewWardUtilization: {
		{ResourceBeds, 30 * time.Second},
	},
	ViewWardStaff: {
		{ResourceBeds, 30 * time.Second},
		{ResourceAlerts, 30 * time.Second},
	},
	ViewAdmin: {
		{ResourceBeds, 30 * time.Second},
		{ResourceAlerts, 30 * time.Second},
		{ResourceRequests, 30 * time.Second},
	},
}

// Subscriptions returns what v polls, always including the health probe.
func (v View) Subscriptions() ([]Subscription, error) {
	subs, ok := viewSubscriptions[v]
	if !ok {
		return nil, fmt.Errorf("unknown view %q", v)
	}
	out := make([]Subscription, 0, len(subs)+1)
	out = append(out, subs...)
	out = append(out, Subscription{ResourceHealth, healthInterval})
	return out, nil
}

// DefaultViews maps a role to the dashboards it lands on.
func DefaultViews(role domain.Role) []View {
	switch role {
	case domain.RoleHospitalAdmin:
		return []View{ViewAdmin}
	case domain.RoleManager:
		return []View{ViewManager, ViewWardUtilization, ViewForecasting}
	case domain.RoleWardStaff:
		return []View{ViewWardStaff}
	case domain.RoleERStaff:
		return []View{ViewER}
	}
	return []View{ViewWardUtilization}
}

// ParseViews converts configured view names, rejecting unknown ones.
func ParseViews(names []string) ([]View, error) {
	views := make([]View, 0, len(names))
	for _, n := range names {
		v := View(n)
		if _, ok := viewSubscriptions[v]; !ok {
			return nil, fmt.Errorf("unknown view %q", n)
		}
		views = append(views, v)
	}
	return views, nil
}
