package model

import "time"

type QuotaScope string

const (
	QuotaScopeUser   QuotaScope = "USER"
	QuotaScopeGlobal QuotaScope = "GLOBAL"
)

// SystemQuotaKey identifies the single GLOBAL counter row per day.
const SystemQuotaKey = "system"

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
