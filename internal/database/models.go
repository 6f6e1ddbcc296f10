package database

import (
	"time"

	"github.com/google/uuid"
)

// User represents a mining pool account (the payout address owner a worker
// authenticates under).
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

// Worker is a persisted stratum worker (user.workername), surviving across
// the many short-lived client instances that may connect under it: aggregated
// user-agent, the current instance count, and its per-worker minimum
// difficulty.
type Worker struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	Name           string    `json:"name" db:"name"`
	NormalizedUA   string    `json:"normalized_ua" db:"normalized_ua"`
	InstanceCount  int32     `json:"instance_count" db:"instance_count"`
	MinDiff        float64   `json:"min_diff" db:"min_diff"`
	LastSeen       time.Time `json:"last_seen" db:"last_seen"`
	Hashrate       float64   `json:"hashrate" db:"hashrate"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
	NetworkID      *uuid.UUID `json:"network_id" db:"network_id"`
}

// Share is a persisted share submission, extended with the dedup
// fingerprint tuple so a restart can rebuild the dedup window from recent
// rows if the in-memory one was lost.
type Share struct {
	ID         int64      `json:"id" db:"id"`
	WorkerID   int64      `json:"worker_id" db:"worker_id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	WorkbaseID int64      `json:"workbase_id" db:"workbase_id"`
	Difficulty float64    `json:"difficulty" db:"difficulty"`
	IsValid    bool       `json:"is_valid" db:"is_valid"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
	Enonce1    uint64     `json:"enonce1" db:"enonce1"`
	Enonce2    string     `json:"enonce2" db:"enonce2"`
	NTime      uint32     `json:"ntime" db:"ntime"`
	Nonce      uint32     `json:"nonce" db:"nonce"`
	Hash       string     `json:"hash" db:"hash"`
	NetworkID  *uuid.UUID `json:"network_id" db:"network_id"`
}

// Block records a block candidate the pool found, pending network
// confirmation.
type Block struct {
	ID         int64      `json:"id" db:"id"`
	Height     int64      `json:"height" db:"height"`
	Hash       string     `json:"hash" db:"hash"`
	WorkerID   int64      `json:"worker_id" db:"worker_id"`
	Difficulty float64    `json:"difficulty" db:"difficulty"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
	Status     string     `json:"status" db:"status"` // pending, confirmed, orphaned
	NetworkID  *uuid.UUID `json:"network_id" db:"network_id"`
}
