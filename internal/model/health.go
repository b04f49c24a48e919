package model

const (
	StatusOK       = "ok"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// HealthStatus reports the state of the backend's dependencies.
type HealthStatus struct {
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// Healthy is true when nothing reports down. A disabled cache is healthy.
func (h HealthStatus) Healthy() bool {
	return h.Database == StatusOK && h.Cache != StatusDown
}
