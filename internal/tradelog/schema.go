package tradelog

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	order_id      TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	type          TEXT NOT NULL,
	quantity      INTEGER NOT NULL,
	limit_price   REAL,
	status        TEXT NOT NULL DEFAULT 'new',
	reject_reason TEXT NOT NULL DEFAULT '',
	submitted_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_submitted ON orders(submitted_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
	trade_id     TEXT PRIMARY KEY,
	order_id     TEXT NOT NULL REFERENCES orders(order_id),
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	price        REAL NOT NULL,
	slippage_bps REAL NOT NULL DEFAULT 0,
	realized_pnl REAL,
	executed_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_executed ON trades(executed_at);

CREATE TABLE IF NOT EXISTS alerts (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	severity  TEXT NOT NULL,
	symbol    TEXT NOT NULL DEFAULT '',
	message   TEXT NOT NULL,
	raised_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_raised ON alerts(raised_at);
`
