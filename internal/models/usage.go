package models

import (
	"time"
)

// Usage is one recorded successful dispatch of a guest link.
type Usage struct {
	ID        int64     `json:"id"`
	LinkID    string    `json:"link_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer"`
	UsedAt    time.Time `json:"used_at"`
}

type UsageEvent struct {
	LinkID    string
	IPAddress string
	UserAgent string
	Referer   string
	UsedAt    time.Time
}

type UsageStats struct {
	LinkID         string `json:"link_id"`
	TotalUses      int64  `json:"total_uses"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

type DailyUsageStats struct {
	Date string `json:"date"`
	Uses int64  `json:"uses"`
}
