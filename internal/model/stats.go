package model

import "time"

type SystemQuota struct {
	Today          int     `json:"today"`
	Yesterday      int     `json:"yesterday"`
	Limit          int     `json:"limit"`
	PercentageUsed float64 `json:"percentageUsed"`
}

type UserUsage struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// EmailStatistics backs the admin statistics page. It is advisory data and may be served from cache.
type EmailStatistics struct {
	SystemQuota  SystemQuota `json:"systemQuota"`
	TopUsers     []UserUsage `json:"topUsers"`
	RecentEmails []EmailLog  `json:"recentEmails"`
	TotalEmails  int64       `json:"totalEmails"`
	UserLimit    int         `json:"userLimit"`
	GeneratedAt  time.Time   `json:"generatedAt"`
}
