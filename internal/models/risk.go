package models

import "time"

// RiskWindow identifies a rolling loss window.
type RiskWindow string

const (
	WindowDaily   RiskWindow = "daily"
	WindowWeekly  RiskWindow = "weekly"
	WindowMonthly RiskWindow = "monthly"
)

// AllWindows lists the windows in reporting order.
var AllWindows = []RiskWindow{WindowDaily, WindowWeekly, WindowMonthly}

// WindowReport is a point-in-time view of one window.
type WindowReport struct {
	Window             RiskWindow `json:"window"`
	PnL                float64    `json:"pnl"`
	LimitPercent       float64    `json:"limit_percent"`
	UtilizationPercent float64    `json:"utilization_percent"`
	Breached           bool       `json:"breached"`
	LastReset          time.Time  `json:"last_reset"`
}
