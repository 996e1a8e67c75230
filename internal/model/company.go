package model

import "time"

type Company struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	APIKey         string    `db:"api_key"`
	Status         string    `db:"status"`           // active|suspended
	RateLimitRPS   *int      `db:"rate_limit_rps"`   // nullable, falls back to config
	RateLimitBurst *int      `db:"rate_limit_burst"` // nullable, falls back to config
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
