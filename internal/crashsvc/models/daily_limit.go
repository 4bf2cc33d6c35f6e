package models

import "github.com/shopspring/decimal"

// DayFormat keys daily counters to a calendar day; rows reset
// implicitly because a new day keys a new row.
const DayFormat = "2006-01-02"

type DailyLimit struct {
	UserID  int64           `json:"user_id"`
	Day     string          `json:"day"`
	Wagered decimal.Decimal `json:"wagered"`
	Lost    decimal.Decimal `json:"lost"`
	Games   int             `json:"games"`
}
