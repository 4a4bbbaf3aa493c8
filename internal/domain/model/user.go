package model

import "time"

// User is the point-accounting row for one wallet address.
// CurrentLevel is a cached display label; TotalPoints is authoritative.
type User struct {
	WalletAddress string    `db:"wallet_address"`
	TotalPoints   int64     `db:"total_points"`
	CurrentLevel  string    `db:"current_level"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
