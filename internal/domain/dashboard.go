package domain

import "time"

// DashboardStat is a named counter shown on the operator dashboard.
type DashboardStat struct {
	Name      string    `json:"name"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Activity is a recent user-facing event.
type Activity struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Alert is an operational notice.
type Alert struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// DashboardData aggregates the dashboard read model.
type DashboardData struct {
	Stats      []DashboardStat `json:"stats"`
	Activities []Activity      `json:"activities"`
	Alerts     []Alert         `json:"alerts"`
}
