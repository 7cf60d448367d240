package storage

import (
	"database/sql"
	"fmt"
	"time"

	"horizon-index/src/helpers"
	"horizon-index/src/logger"
	"horizon-index/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open sqlite", err)
	}

	if err := db.Ping(); err != nil {
		return helpers.NewDatabaseError("ping sqlite", err)
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string.
	// Tables are durable across restarts; the ledger and bars are the
	// source of truth for recovery.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_bars (
			ticker TEXT,
			date TEXT,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			fetched_at INTEGER,
			PRIMARY KEY (ticker, date)
		);`,
		`CREATE TABLE IF NOT EXISTS index_ledger (
			date TEXT PRIMARY KEY,
			timestamp INTEGER,
			value REAL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			previous_close REAL,
			change REAL,
			change_percent REAL,
			ff_mcap_sum REAL,
			total_mcap REAL,
			divisor REAL,
			num_constituents INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS engine_state (
			key TEXT PRIMARY KEY,
			divisor REAL,
			base_value REAL,
			base_date TEXT,
			last_ff_mcap_sum REAL,
			num_constituents INTEGER,
			last_ledger_date TEXT,
			updated_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS fundamentals (
			ticker TEXT PRIMARY KEY,
			shares_outstanding REAL,
			float_shares REAL,
			name TEXT,
			sector TEXT,
			currency TEXT,
			fetched_at INTEGER
		);`,
	}

	for _, q := range stmts {
		if _, err := d.DB.Exec(q); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LastStoredDate(ticker string) (string, error) {
	var date sql.NullString
	err := d.DB.QueryRow(
		`SELECT MAX(date) FROM price_bars WHERE ticker = ?`, ticker,
	).Scan(&date)
	if err != nil {
		return "", err
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) AppendBars(ticker string, bars []models.MPriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// INSERT OR IGNORE keeps the append-only invariant: an existing
	// (ticker, date) row is never overwritten.
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO price_bars (ticker, date, open, high, low, close, volume, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, b := range bars {
		res, err := stmt.Exec(ticker, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.FetchedAt)
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	return inserted, tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ReadBars(ticker string, fromDate string) ([]models.MPriceBar, error) {
	query := `SELECT ticker, date, open, high, low, close, volume, fetched_at
		FROM price_bars WHERE ticker = ?`
	args := []interface{}{ticker}
	if fromDate != "" {
		query += ` AND date >= ?`
		args = append(args, fromDate)
	}
	query += ` ORDER BY date ASC`

	rows, err := d.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []models.MPriceBar
	for rows.Next() {
		var b models.MPriceBar
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.FetchedAt); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) ReadLedger() ([]models.MIndexLedgerEntry, error) {
	rows, err := d.DB.Query(`
		SELECT date, timestamp, value, open, high, low, close, previous_close,
		       change, change_percent, ff_mcap_sum, total_mcap, divisor, num_constituents
		FROM index_ledger ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.MIndexLedgerEntry
	for rows.Next() {
		var e models.MIndexLedgerEntry
		if err := rows.Scan(&e.Date, &e.Timestamp, &e.Value, &e.Open, &e.High, &e.Low, &e.Close,
			&e.PreviousClose, &e.Change, &e.ChangePercent, &e.FFMCapSum, &e.TotalMCap,
			&e.Divisor, &e.NumConstituents); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) UpsertLedgerEntry(e models.MIndexLedgerEntry) error {
	_, err := d.DB.Exec(`
		INSERT INTO index_ledger (date, timestamp, value, open, high, low, close, previous_close,
			change, change_percent, ff_mcap_sum, total_mcap, divisor, num_constituents)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			timestamp = excluded.timestamp,
			value = excluded.value,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			previous_close = excluded.previous_close,
			change = excluded.change,
			change_percent = excluded.change_percent,
			ff_mcap_sum = excluded.ff_mcap_sum,
			total_mcap = excluded.total_mcap,
			divisor = excluded.divisor,
			num_constituents = excluded.num_constituents
	`, e.Date, e.Timestamp, e.Value, e.Open, e.High, e.Low, e.Close, e.PreviousClose,
		e.Change, e.ChangePercent, e.FFMCapSum, e.TotalMCap, e.Divisor, e.NumConstituents)
	return err
}

// -----------------------------------------------------------------------------

const engineStateKey = "hgx_engine"

func (d *AsyncSQLiteDB) LoadEngineState() (*models.MEngineState, error) {
	var s models.MEngineState
	err := d.DB.QueryRow(`
		SELECT divisor, base_value, base_date, last_ff_mcap_sum, num_constituents, last_ledger_date, updated_at
		FROM engine_state WHERE key = ?`, engineStateKey,
	).Scan(&s.Divisor, &s.BaseValue, &s.BaseDate, &s.LastFFMCapSum, &s.NumConstituents, &s.LastLedgerDate, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveEngineState(s models.MEngineState) error {
	if s.UpdatedAt == 0 {
		s.UpdatedAt = time.Now().Unix()
	}
	_, err := d.DB.Exec(`
		INSERT INTO engine_state (key, divisor, base_value, base_date, last_ff_mcap_sum, num_constituents, last_ledger_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			divisor = excluded.divisor,
			base_value = excluded.base_value,
			base_date = excluded.base_date,
			last_ff_mcap_sum = excluded.last_ff_mcap_sum,
			num_constituents = excluded.num_constituents,
			last_ledger_date = excluded.last_ledger_date,
			updated_at = excluded.updated_at
	`, engineStateKey, s.Divisor, s.BaseValue, s.BaseDate, s.LastFFMCapSum, s.NumConstituents, s.LastLedgerDate, s.UpdatedAt)
	return err
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadFundamentals(ticker string) (*models.MStockFundamentals, error) {
	var f models.MStockFundamentals
	err := d.DB.QueryRow(`
		SELECT ticker, shares_outstanding, float_shares, name, sector, currency, fetched_at
		FROM fundamentals WHERE ticker = ?`, ticker,
	).Scan(&f.Ticker, &f.SharesOutstanding, &f.FloatShares, &f.Name, &f.Sector, &f.Currency, &f.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveFundamentals(f models.MStockFundamentals) error {
	_, err := d.DB.Exec(`
		INSERT INTO fundamentals (ticker, shares_outstanding, float_shares, name, sector, currency, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			shares_outstanding = excluded.shares_outstanding,
			float_shares = excluded.float_shares,
			name = excluded.name,
			sector = excluded.sector,
			currency = excluded.currency,
			fetched_at = excluded.fetched_at
	`, f.Ticker, f.SharesOutstanding, f.FloatShares, f.Name, f.Sector, f.Currency, f.FetchedAt)
	return err
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
