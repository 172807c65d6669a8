package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AlertLedger remembers which SOS alerts a clinic has already decided so a
// redelivered broker message is not queued again across restarts.
type AlertLedger struct {
	pool rowQuerier
}

func NewAlertLedger(pool *pgxpool.Pool) *AlertLedger {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &AlertLedger{pool: pool}
}

func newAlertLedgerWithExec(exec rowQuerier) *AlertLedger {
	if exec == nil {
		panic("events: exec required")
	}
	return &AlertLedger{pool: exec}
}

// Seen reports whether the clinic already decided the alert.
func (l *AlertLedger) Seen(ctx context.Context, clinicID, bookingID string) (bool, error) {
	query := `SELECT 1 FROM sos_alert_claims WHERE clinic_id = $1 AND booking_id = $2`
	var exists int
	if err := l.pool.QueryRow(ctx, query, clinicID, bookingID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check alert claim: %w", err)
	}
	return true, nil
}

// Claim records a decision and returns false when one was already recorded.
func (l *AlertLedger) Claim(ctx context.Context, clinicID, bookingID string) (bool, error) {
	query := `
		INSERT INTO sos_alert_claims (clinic_id, booking_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := l.pool.Exec(ctx, query, clinicID, bookingID)
	if err != nil {
		return false, fmt.Errorf("events: claim alert: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
