package accessory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/database"
)

const (
	// DefaultHistoryLimit is the number of entries History returns when
	// no limit is given.
	DefaultHistoryLimit = 100

	// MaxHistoryLimit caps a single History query.
	MaxHistoryLimit = 1000

	historyWriteTimeout = 5 * time.Second
)

// HistoryEntry is one recorded state snapshot.
type HistoryEntry struct {
	RecordedAt         time.Time `json:"recorded_at"`
	Power              bool      `json:"power"`
	TargetMode         string    `json:"target_mode"`
	CurrentMode        string    `json:"current_mode"`
	CurrentTemperature *int      `json:"current_temperature"`
	HeatingSetpoint    *int      `json:"heating_setpoint"`
	CoolingSetpoint    *int      `json:"cooling_setpoint"`
	Swing              bool      `json:"swing"`
	Source             string    `json:"source"`
}

// historyRow is the comparable form of a state as stored.
type historyRow struct {
	power       bool
	targetMode  string
	currentMode string
	temperature int
	heating     sql.NullInt64
	cooling     sql.NullInt64
	swing       bool
}

func rowOf(s heatercooler.State) historyRow {
	r := historyRow{
		power:       s.Power,
		targetMode:  s.TargetMode.String(),
		currentMode: s.CurrentMode.String(),
		temperature: s.CurrentTemperature,
		swing:       s.Swing,
	}
	if s.HeatingSetpoint != nil {
		r.heating = sql.NullInt64{Int64: int64(*s.HeatingSetpoint), Valid: true}
	}
	if s.CoolingSetpoint != nil {
		r.cooling = sql.NullInt64{Int64: int64(*s.CoolingSetpoint), Valid: true}
	}
	return r
}

// HistoryRecorder keeps a state history per accessory in SQLite.
// A snapshot is stored only when it differs from the last one stored for
// the same accessory. Rows older than the retention are pruned.
type HistoryRecorder struct {
	db        *database.DB
	retention time.Duration
	logger    Logger
	queue     *queue

	mu   sync.Mutex
	last map[string]historyRow

	now func() time.Time
}

// NewHistoryRecorder creates a recorder. A zero retention keeps everything.
func NewHistoryRecorder(db *database.DB, retention time.Duration, logger Logger) *HistoryRecorder {
	return &HistoryRecorder{
		db:        db,
		retention: retention,
		logger:    logger,
		queue:     newQueue("history", defaultQueueSize, logger),
		last:      make(map[string]historyRow),
		now:       time.Now,
	}
}

// Attach records the appliance's current state and every later change.
// Writes happen on the recorder's queue; call Run to process them.
func (h *HistoryRecorder) Attach(id string, app Appliance) {
	snap := app.Snapshot()
	h.queue.push(func() { h.recordQueued(id, snap, "attach") })
	app.OnChange(func(u heatercooler.Update) {
		h.queue.push(func() { h.recordQueued(id, u.State, u.Source) })
	})
}

func (h *HistoryRecorder) recordQueued(id string, s heatercooler.State, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if _, err := h.Record(ctx, id, s, source); err != nil && h.logger != nil {
		h.logger.Warn("recording state history failed", "accessory_id", id, "error", err)
	}
}

// Record stores s unless it equals the last stored state of id.
// It reports whether a row was written.
func (h *HistoryRecorder) Record(ctx context.Context, id string, s heatercooler.State, source string) (bool, error) {
	row := rowOf(s)

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.last[id]; ok && prev == row {
		return false, nil
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO state_history (accessory_id, recorded_at, power, target_mode, current_mode,
			current_temperature, heating_setpoint, cooling_setpoint, swing, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, formatTime(h.now()), boolToInt(row.power), row.targetMode, row.currentMode,
		row.temperature, row.heating, row.cooling, boolToInt(row.swing), source,
	)
	if err != nil {
		return false, fmt.Errorf("inserting history for %s: %w", id, err)
	}
	h.last[id] = row
	return true, nil
}

// History returns up to limit entries of id, newest first. A limit of zero
// or less selects DefaultHistoryLimit.
func (h *HistoryRecorder) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	rows, err := h.db.QueryContext(ctx, `
		SELECT recorded_at, power, target_mode, current_mode, current_temperature,
			heating_setpoint, cooling_setpoint, swing, source
		FROM state_history
		WHERE accessory_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", id, err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e                HistoryEntry
			recordedAt       string
			power, swing     int
			temperature      int
			heating, cooling sql.NullInt64
		)
		if err := rows.Scan(&recordedAt, &power, &e.TargetMode, &e.CurrentMode, &temperature,
			&heating, &cooling, &swing, &e.Source); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		e.RecordedAt = parseTime(recordedAt)
		e.Power = power != 0
		e.Swing = swing != 0
		if temperature != heatercooler.UnknownTemperature {
			e.CurrentTemperature = &temperature
		}
		e.HeatingSetpoint = nullableInt(heating)
		e.CoolingSetpoint = nullableInt(cooling)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the retention and returns how many
// were removed.
func (h *HistoryRecorder) Prune(ctx context.Context) (int64, error) {
	if h.retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(h.now().Add(-h.retention))
	res, err := h.db.ExecContext(ctx, "DELETE FROM state_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return n, nil
}

// Run processes queued writes and prunes every interval until ctx is
// cancelled. Writes still queued at cancellation are flushed first.
func (h *HistoryRecorder) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			h.queue.drain()
			return
		case fn := <-h.queue.ch:
			h.queue.exec(fn)
		case <-ticker.C:
			h.prune(ctx)
		}
	}
}

func (h *HistoryRecorder) prune(ctx context.Context) {
	n, err := h.Prune(ctx)
	if h.logger == nil {
		return
	}
	switch {
	case err != nil:
		h.logger.Warn("pruning state history failed", "error", err)
	case n > 0:
		h.logger.Info("pruned state history", "rows", n, "retention", h.retention.String())
	}
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
