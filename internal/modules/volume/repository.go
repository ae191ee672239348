// Package volume maintains the durable 20-day average volume cache: a
// sqlite-backed repository read by discovery and rebuilt nightly by the
// refresh job.
package volume

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/domain"
)

// Repository provides access to the volume_averages table. Discovery holds
// it read-only; the refresh job is the only writer.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a volume average repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "volume_repository").Logger(),
	}
}

// Get returns the cached averages for the requested symbols, restricted to
// entries whose last_updated is within maxAge. Symbols without a fresh
// entry are simply absent from the result.
func (r *Repository) Get(symbols []string, maxAge time.Duration) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	result := make(map[string]float64, len(symbols))

	// sqlite caps bound parameters; chunk the IN list.
	const chunkSize = 500
	for start := 0; start < len(symbols); start += chunkSize {
		end := start + chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]

		query := "SELECT symbol, avg_volume_20d FROM volume_averages WHERE last_updated >= ? AND symbol IN ("
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, cutoff)
		for i, sym := range chunk {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, sym)
		}
		query += ")"

		rows, err := r.db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query volume averages: %w", err)
		}
		for rows.Next() {
			var symbol string
			var avg float64
			if err := rows.Scan(&symbol, &avg); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan volume average: %w", err)
			}
			result[symbol] = avg
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating volume averages: %w", err)
		}
		rows.Close()
	}

	return result, nil
}

// UpsertBatch writes a batch of averages in one transaction, replacing
// existing rows and bumping last_updated. Entries with avg <= 0 are
// rejected before the transaction begins. Returns the rows written.
func (r *Repository) UpsertBatch(averages map[string]float64) (int, error) {
	if len(averages) == 0 {
		return 0, nil
	}
	for sym, avg := range averages {
		if avg <= 0 {
			return 0, fmt.Errorf("refusing to upsert non-positive average for %s: %f", sym, avg)
		}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO volume_averages (symbol, avg_volume_20d, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			avg_volume_20d = excluded.avg_volume_20d,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	written := 0
	for sym, avg := range averages {
		if _, err := stmt.Exec(sym, avg, now); err != nil {
			return 0, fmt.Errorf("failed to upsert %s: %w", sym, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert batch: %w", err)
	}

	r.log.Debug().Int("written", written).Msg("Volume averages upserted")
	return written, nil
}

// StaleSymbols returns symbols whose entry is older than maxAgeHours, for
// the incremental refresh mode.
func (r *Repository) StaleSymbols(maxAgeHours int) ([]string, error) {
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour).Unix()

	rows, err := r.db.Query(
		"SELECT symbol FROM volume_averages WHERE last_updated < ? ORDER BY last_updated ASC",
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan stale symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale symbols: %w", err)
	}
	return symbols, nil
}

// Count returns the number of cached entries, any age.
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM volume_averages").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count volume averages: %w", err)
	}
	return n, nil
}

// Entry returns a single full entry, nil when absent.
func (r *Repository) Entry(symbol string) (*domain.VolumeAverage, error) {
	var avg float64
	var updated int64
	err := r.db.QueryRow(
		"SELECT avg_volume_20d, last_updated FROM volume_averages WHERE symbol = ?",
		symbol,
	).Scan(&avg, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query volume average: %w", err)
	}
	return &domain.VolumeAverage{
		Symbol:      symbol,
		Avg20d:      avg,
		LastUpdated: time.Unix(updated, 0),
	}, nil
}
