package rewards

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// User is the cumulative contributor record.
type User struct {
	WalletAddress            string    `json:"wallet_address"`
	Username                 string    `json:"username"`
	TotalPoints              int64     `json:"total_points"`
	TotalSubmissions         int       `json:"total_submissions"`
	AverageRarityScore       float64   `json:"average_rarity_score"`
	Tier                     string    `json:"tier"`
	Rank                     int       `json:"rank,omitempty"`
	FirstBulkContributions   int       `json:"first_bulk_contributions"`
	RareSubjectContributions int       `json:"rare_subject_contributions"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Applier awards points for completed verifications, keyed idempotently on
// session id.
type Applier struct {
	db  *sql.DB
	log *logger.Logger
}

// NewApplier creates a reward applier over the shared database pool.
func NewApplier(db *sql.DB, log *logger.Logger) *Applier {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	return &Applier{db: db, log: log}
}

// Apply derives the point award for one submission and applies it to the
// contributor's totals in a single transaction. Re-applying the same session
// id is a no-op: the submission record row is inserted first and keyed on
// session id, so a duplicate rolls the whole transaction back untouched.
//
// A missing wallet skips silently; unattributed submissions are expected.
func (a *Applier) Apply(ctx context.Context, in Input) (*Breakdown, error) {
	if in.WalletAddress == "" {
		a.log.WithSession(in.SessionID).Info("no wallet on submission, skipping reward")
		return nil, nil
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reward transaction: %w", err)
	}
	defer tx.Rollback()

	// Global submission count drives the early-contributor bonus.
	var totalSubmissions int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submission_records`,
	).Scan(&totalSubmissions); err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}

	breakdown := Calculate(in, totalSubmissions)

	multipliersJSON, err := json.Marshal(breakdown)
	if err != nil {
		return nil, fmt.Errorf("marshal multiplier breakdown: %w", err)
	}

	// Row-first ordering keeps the award idempotent: a session that was
	// already rewarded inserts nothing and the totals update never runs.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO submission_records (session_id, wallet_address, points, rarity_score, multipliers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING
	`, in.SessionID, in.WalletAddress, breakdown.Points, in.RarityScore, multipliersJSON, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert submission record: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		a.log.WithSession(in.SessionID).Info("session already rewarded, skipping")
		return nil, nil
	}

	user, err := a.lockOrCreateUser(ctx, tx, in.WalletAddress)
	if err != nil {
		return nil, err
	}

	newSubmissions := user.TotalSubmissions + 1
	newPoints := user.TotalPoints + breakdown.Points
	newAvg := (user.AverageRarityScore*float64(user.TotalSubmissions) + float64(in.RarityScore)) / float64(newSubmissions)

	firstBulk := user.FirstBulkContributions
	if in.IsFirstBulk {
		firstBulk++
	}
	rareSubjects := user.RareSubjectContributions
	if IsRareSubject(in.SubjectRarityTier) {
		rareSubjects++
	}

	newTier := TierForPoints(newPoints)

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET total_points = $1,
		    total_submissions = $2,
		    average_rarity_score = $3,
		    tier = $4,
		    first_bulk_contributions = $5,
		    rare_subject_contributions = $6,
		    updated_at = $7
		WHERE wallet_address = $8
	`, newPoints, newSubmissions, newAvg, newTier, firstBulk, rareSubjects, time.Now().UTC(), in.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("update user totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reward transaction: %w", err)
	}

	a.log.WithSession(in.SessionID).Infof(
		"awarded %d points to %s (total: %d, tier: %s)",
		breakdown.Points, truncateWallet(in.WalletAddress), newPoints, newTier)

	return &breakdown, nil
}

func (a *Applier) lockOrCreateUser(ctx context.Context, tx *sql.Tx, wallet string) (*User, error) {
	user := &User{WalletAddress: wallet}

	err := tx.QueryRowContext(ctx, `
		SELECT total_points, total_submissions, average_rarity_score,
		       first_bulk_contributions, rare_subject_contributions
		FROM users
		WHERE wallet_address = $1
		FOR UPDATE
	`, wallet).Scan(
		&user.TotalPoints, &user.TotalSubmissions, &user.AverageRarityScore,
		&user.FirstBulkContributions, &user.RareSubjectContributions,
	)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock user: %w", err)
	}

	now := time.Now().UTC()
	username := "User_" + truncateWallet(wallet)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users
		(wallet_address, username, total_points, total_submissions, average_rarity_score,
		 tier, first_bulk_contributions, rare_subject_contributions, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, 'Contributor', 0, 0, $3, $4)
	`, wallet, username, now, now)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	a.log.Infof("created new user %s", truncateWallet(wallet))
	return user, nil
}

// GetUser returns the contributor record, or nil when the wallet is unknown.
func (a *Applier) GetUser(ctx context.Context, wallet string) (*User, error) {
	user := &User{}
	var rank sql.NullInt64
	err := a.db.QueryRowContext(ctx, `
		SELECT wallet_address, username, total_points, total_submissions, average_rarity_score,
		       tier, rank, first_bulk_contributions, rare_subject_contributions, created_at, updated_at
		FROM users
		WHERE wallet_address = $1
	`, wallet).Scan(
		&user.WalletAddress, &user.Username, &user.TotalPoints, &user.TotalSubmissions,
		&user.AverageRarityScore, &user.Tier, &rank,
		&user.FirstBulkContributions, &user.RareSubjectContributions,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if rank.Valid {
		user.Rank = int(rank.Int64)
	}
	return user, nil
}

// RefreshRanks recomputes every user's rank from the points ordering. Run
// periodically from a background worker.
func (a *Applier) RefreshRanks(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE users
		SET rank = ranked.new_rank
		FROM (
			SELECT wallet_address, ROW_NUMBER() OVER (ORDER BY total_points DESC) AS new_rank
			FROM users
		) ranked
		WHERE users.wallet_address = ranked.wallet_address
	`)
	if err != nil {
		return fmt.Errorf("refresh ranks: %w", err)
	}
	return nil
}

func truncateWallet(wallet string) string {
	if len(wallet) > 8 {
		return wallet[:8]
	}
	return wallet
}
