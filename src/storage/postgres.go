package storage

import (
	"database/sql"
	"fmt"
	"time"

	"horizon-index/src/helpers"
	"horizon-index/src/logger"
	"horizon-index/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	return &PostgresDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open postgres", err)
	}

	// The database container may still be coming up on deploy
	if err := helpers.RetryWithBackoff("ping postgres", 3, time.Second, db.Ping); err != nil {
		return helpers.NewDatabaseError("ping postgres", err)
	}

	d.DB = db

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_bars (
			ticker TEXT,
			date TEXT,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			fetched_at BIGINT,
			PRIMARY KEY (ticker, date)
		);`,
		`CREATE TABLE IF NOT EXISTS index_ledger (
			date TEXT PRIMARY KEY,
			timestamp BIGINT,
			value DOUBLE PRECISION,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			previous_close DOUBLE PRECISION,
			change DOUBLE PRECISION,
			change_percent DOUBLE PRECISION,
			ff_mcap_sum DOUBLE PRECISION,
			total_mcap DOUBLE PRECISION,
			divisor DOUBLE PRECISION,
			num_constituents INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS engine_state (
			key TEXT PRIMARY KEY,
			divisor DOUBLE PRECISION,
			base_value DOUBLE PRECISION,
			base_date TEXT,
			last_ff_mcap_sum DOUBLE PRECISION,
			num_constituents INTEGER,
			last_ledger_date TEXT,
			updated_at BIGINT
		);`,
		`CREATE TABLE IF NOT EXISTS fundamentals (
			ticker TEXT PRIMARY KEY,
			shares_outstanding DOUBLE PRECISION,
			float_shares DOUBLE PRECISION,
			name TEXT,
			sector TEXT,
			currency TEXT,
			fetched_at BIGINT
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

func (d *PostgresDB) LastStoredDate(ticker string) (string, error) {
	var date sql.NullString
	err := d.DB.QueryRow(
		`SELECT MAX(date) FROM price_bars WHERE ticker = $1`, ticker,
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

func (d *PostgresDB) AppendBars(ticker string, bars []models.MPriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO price_bars (ticker, date, open, high, low, close, volume, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticker, date) DO NOTHING
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

func (d *PostgresDB) ReadBars(ticker string, fromDate string) ([]models.MPriceBar, error) {
	query := `SELECT ticker, date, open, high, low, close, volume, fetched_at
		FROM price_bars WHERE ticker = $1`
	args := []interface{}{ticker}
	if fromDate != "" {
		query += ` AND date >= $2`
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

func (d *PostgresDB) ReadLedger() ([]models.MIndexLedgerEntry, error) {
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

func (d *PostgresDB) UpsertLedgerEntry(e models.MIndexLedgerEntry) error {
	_, err := d.DB.Exec(`
		INSERT INTO index_ledger (date, timestamp, value, open, high, low, close, previous_close,
			change, change_percent, ff_mcap_sum, total_mcap, divisor, num_constituents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
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

func (d *PostgresDB) LoadEngineState() (*models.MEngineState, error) {
	var s models.MEngineState
	err := d.DB.QueryRow(`
		SELECT divisor, base_value, base_date, last_ff_mcap_sum, num_constituents, last_ledger_date, updated_at
		FROM engine_state WHERE key = $1`, engineStateKey,
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

func (d *PostgresDB) SaveEngineState(s models.MEngineState) error {
	if s.UpdatedAt == 0 {
		s.UpdatedAt = time.Now().Unix()
	}
	_, err := d.DB.Exec(`
		INSERT INTO engine_state (key, divisor, base_value, base_date, last_ff_mcap_sum, num_constituents, last_ledger_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
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

func (d *PostgresDB) LoadFundamentals(ticker string) (*models.MStockFundamentals, error) {
	var f models.MStockFundamentals
	err := d.DB.QueryRow(`
		SELECT ticker, shares_outstanding, float_shares, name, sector, currency, fetched_at
		FROM fundamentals WHERE ticker = $1`, ticker,
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

func (d *PostgresDB) SaveFundamentals(f models.MStockFundamentals) error {
	_, err := d.DB.Exec(`
		INSERT INTO fundamentals (ticker, shares_outstanding, float_shares, name, sector, currency, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
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

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
