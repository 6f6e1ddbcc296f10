package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateUser creates a new user account.
func CreateUser(db *sql.DB, user *User) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO users (username, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := db.QueryRowContext(ctx, query, user.Username, user.Address, user.IsActive).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID.
func GetUserByID(db *sql.DB, id int64) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := &User{}
	query := `
		SELECT id, username, address, created_at, updated_at, is_active
		FROM users
		WHERE id = $1
	`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Address,
		&user.CreatedAt, &user.UpdatedAt, &user.IsActive,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by username.
func GetUserByUsername(db *sql.DB, username string) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := &User{}
	query := `
		SELECT id, username, address, created_at, updated_at, is_active
		FROM users
		WHERE username = $1
	`

	err := db.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Address,
		&user.CreatedAt, &user.UpdatedAt, &user.IsActive,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByAddress retrieves a user by their pool payout address, the
// identity a stratum worker authenticates under via mining.authorize.
func GetUserByAddress(db *sql.DB, address string) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := &User{}
	query := `
		SELECT id, username, address, created_at, updated_at, is_active
		FROM users
		WHERE address = $1
	`

	err := db.QueryRowContext(ctx, query, address).Scan(
		&user.ID, &user.Username, &user.Address,
		&user.CreatedAt, &user.UpdatedAt, &user.IsActive,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetWorkerByUserAndName retrieves a single persisted worker by its owning
// user and worker name.
func GetWorkerByUserAndName(db *sql.DB, userID int64, name string) (*Worker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	worker := &Worker{}
	query := `
		SELECT id, user_id, name, normalized_ua, instance_count, min_diff, last_seen, hashrate, is_active, created_at, updated_at
		FROM workers
		WHERE user_id = $1 AND name = $2
	`

	err := db.QueryRowContext(ctx, query, userID, name).Scan(
		&worker.ID, &worker.UserID, &worker.Name, &worker.NormalizedUA, &worker.InstanceCount, &worker.MinDiff,
		&worker.LastSeen, &worker.Hashrate, &worker.IsActive,
		&worker.CreatedAt, &worker.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("worker not found")
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	return worker, nil
}

// GetOrCreateWorker returns the persisted worker for userID/name, creating
// it with the pool's default per-worker mindiff if this is its first
// connection.
func GetOrCreateWorker(db *sql.DB, userID int64, name string, defaultMinDiff float64) (*Worker, error) {
	worker, err := GetWorkerByUserAndName(db, userID, name)
	if err == nil {
		return worker, nil
	}

	worker = &Worker{
		UserID:   userID,
		Name:     name,
		MinDiff:  defaultMinDiff,
		IsActive: true,
	}
	if err := CreateWorker(db, worker); err != nil {
		return nil, err
	}
	return worker, nil
}

// CreateWorker creates a new persisted worker record.
func CreateWorker(db *sql.DB, worker *Worker) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO workers (user_id, name, normalized_ua, instance_count, min_diff, hashrate, is_active, created_at, updated_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
		RETURNING id, created_at, updated_at, last_seen
	`

	err := db.QueryRowContext(ctx, query,
		worker.UserID, worker.Name, worker.NormalizedUA, worker.InstanceCount, worker.MinDiff, worker.Hashrate, worker.IsActive,
	).Scan(&worker.ID, &worker.CreatedAt, &worker.UpdatedAt, &worker.LastSeen)

	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	return nil
}

// GetWorkersByUserID retrieves all workers belonging to a user.
func GetWorkersByUserID(db *sql.DB, userID int64) ([]*Worker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		SELECT id, user_id, name, normalized_ua, instance_count, min_diff, last_seen, hashrate, is_active, created_at, updated_at
		FROM workers
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []*Worker
	for rows.Next() {
		worker := &Worker{}
		err := rows.Scan(
			&worker.ID, &worker.UserID, &worker.Name, &worker.NormalizedUA, &worker.InstanceCount, &worker.MinDiff,
			&worker.LastSeen, &worker.Hashrate, &worker.IsActive,
			&worker.CreatedAt, &worker.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, worker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workers: %w", err)
	}

	return workers, nil
}

// UpdateWorkerSeen updates a worker's last-seen timestamp, instance count
// and aggregated user-agent in one statement, run on every client
// subscribe/unsubscribe.
func UpdateWorkerSeen(db *sql.DB, workerID int64, instanceCount int32, normalizedUA string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		UPDATE workers
		SET last_seen = NOW(), updated_at = NOW(), instance_count = $2, normalized_ua = $3
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query, workerID, instanceCount, normalizedUA)
	if err != nil {
		return fmt.Errorf("failed to update worker: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("worker not found")
	}

	return nil
}

// CreateShare persists a share submission, including the dedup fingerprint
// tuple so the dedup window can be rebuilt after a restart.
func CreateShare(db *sql.DB, share *Share) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO shares (worker_id, user_id, workbase_id, difficulty, is_valid, enonce1, enonce2, ntime, nonce, hash, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id, timestamp
	`

	err := db.QueryRowContext(ctx, query,
		share.WorkerID, share.UserID, share.WorkbaseID, share.Difficulty, share.IsValid,
		share.Enonce1, share.Enonce2, share.NTime, share.Nonce, share.Hash,
	).Scan(&share.ID, &share.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}

	return nil
}

// GetSharesByWorkerID retrieves the most recent shares for a worker.
func GetSharesByWorkerID(db *sql.DB, workerID int64, limit int) ([]*Share, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		SELECT id, worker_id, user_id, workbase_id, difficulty, is_valid, timestamp, enonce1, enonce2, ntime, nonce, hash
		FROM shares
		WHERE worker_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var result []*Share
	for rows.Next() {
		share := &Share{}
		err := rows.Scan(
			&share.ID, &share.WorkerID, &share.UserID, &share.WorkbaseID, &share.Difficulty,
			&share.IsValid, &share.Timestamp, &share.Enonce1, &share.Enonce2, &share.NTime, &share.Nonce, &share.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		result = append(result, share)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}

	return result, nil
}

// CreateBlock records a block candidate the pool found.
func CreateBlock(db *sql.DB, block *Block) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO blocks (height, hash, worker_id, difficulty, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, timestamp
	`

	err := db.QueryRowContext(ctx, query, block.Height, block.Hash, block.WorkerID, block.Difficulty, block.Status).
		Scan(&block.ID, &block.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}

	return nil
}

// UpdateBlockStatus transitions a recorded block to confirmed or orphaned
// once the network has settled its fate.
func UpdateBlockStatus(db *sql.DB, blockID int64, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `UPDATE blocks SET status = $2 WHERE id = $1`

	result, err := db.ExecContext(ctx, query, blockID, status)
	if err != nil {
		return fmt.Errorf("failed to update block status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("block not found")
	}

	return nil
}
