package wcs

import "fmt"

// keyspaceDDL uses SimpleStrategy; production overrides replication via
// operator tooling, the sink only guarantees the keyspace exists.
const keyspaceDDL = `CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`

// tableDDL is applied in order on startup. Tables cluster newest-first so
// "latest row" reads need no sort.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS markets (
		market_id text,
		block_height bigint,
		block_time bigint,
		ticker text,
		status text,
		is_perpetual boolean,
		mark_price double,
		maintenance_margin_ratio double,
		initial_margin_ratio double,
		cumulative_funding double,
		min_price_tick double,
		min_quantity_tick double,
		min_notional double,
		PRIMARY KEY (market_id, block_height)
	) WITH CLUSTERING ORDER BY (block_height DESC)`,

	`CREATE TABLE IF NOT EXISTS positions (
		market_id text,
		subaccount_id text,
		block_height bigint,
		block_time bigint,
		is_long boolean,
		quantity double,
		entry_price double,
		margin double,
		cumulative_funding_entry double,
		liquidation_price double,
		is_liquidatable boolean,
		mark_price double,
		PRIMARY KEY ((market_id, subaccount_id), block_height)
	) WITH CLUSTERING ORDER BY (block_height DESC)`,

	`CREATE TABLE IF NOT EXISTS market_positions (
		market_id text,
		subaccount_id text,
		block_height bigint,
		block_time bigint,
		is_long boolean,
		quantity double,
		entry_price double,
		margin double,
		cumulative_funding_entry double,
		liquidation_price double,
		is_liquidatable boolean,
		mark_price double,
		PRIMARY KEY (market_id, subaccount_id, block_height)
	) WITH CLUSTERING ORDER BY (subaccount_id ASC, block_height DESC)`,

	`CREATE TABLE IF NOT EXISTS positions_by_subaccount (
		subaccount_id text,
		block_height bigint,
		market_id text,
		block_time bigint,
		is_long boolean,
		quantity double,
		entry_price double,
		margin double,
		liquidation_price double,
		is_liquidatable boolean,
		PRIMARY KEY (subaccount_id, block_height, market_id)
	) WITH CLUSTERING ORDER BY (block_height DESC, market_id ASC)`,

	`CREATE TABLE IF NOT EXISTS exchange_balances (
		subaccount_id text,
		denom text,
		block_height bigint,
		block_time bigint,
		available_balance double,
		total_balance double,
		PRIMARY KEY ((subaccount_id, denom), block_height)
	) WITH CLUSTERING ORDER BY (block_height DESC)`,

	`CREATE TABLE IF NOT EXISTS exchange_balances_by_subaccount (
		subaccount_id text,
		block_height bigint,
		denom text,
		block_time bigint,
		available_balance double,
		total_balance double,
		PRIMARY KEY (subaccount_id, block_height, denom)
	) WITH CLUSTERING ORDER BY (block_height DESC, denom ASC)`,

	`CREATE TABLE IF NOT EXISTS orderbook_snapshots (
		market_id text,
		timestamp bigint,
		orderbook_id uuid,
		block_height bigint,
		bid_count int,
		ask_count int,
		best_bid double,
		best_ask double,
		mid_price double,
		PRIMARY KEY (market_id, timestamp)
	) WITH CLUSTERING ORDER BY (timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS orderbook_orders (
		orderbook_id uuid,
		is_bid boolean,
		price double,
		order_hash text,
		quantity double,
		subaccount_id text,
		PRIMARY KEY (orderbook_id, is_bid, price, order_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS liquidatable_positions (
		market_id text,
		subaccount_id text,
		is_long boolean,
		liquidation_price double,
		mark_price double,
		updated_at timestamp,
		PRIMARY KEY (market_id, subaccount_id)
	)`,

	`CREATE TABLE IF NOT EXISTS market_statistics (
		market_id text,
		date text,
		hour int,
		best_bid double,
		best_ask double,
		mid_price double,
		bid_orders int,
		ask_orders int,
		updated_at timestamp,
		PRIMARY KEY ((market_id, date), hour)
	)`,
}

func keyspaceStatement(keyspace string) string {
	return fmt.Sprintf(keyspaceDDL, keyspace)
}
