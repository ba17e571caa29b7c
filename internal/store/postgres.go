package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/premx/settlement-engine/internal/model"
)

// Schema creates the settlement-engine tables. Monetary values are stored
// as NUMERIC(20,0): exact minor units, wide enough for the full uint64
// range. Events and payouts are append-only.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	url               TEXT NOT NULL DEFAULT '',
	symbol            TEXT NOT NULL UNIQUE,
	fee_pct           BIGINT NOT NULL,
	fee_balance       NUMERIC(20,0) NOT NULL,
	coin_type         TEXT NOT NULL DEFAULT '',
	coin_decimals     INT NOT NULL DEFAULT 0,
	settlement_end_at TIMESTAMPTZ,
	buy_value         NUMERIC(20,0) NOT NULL,
	buy_amount        NUMERIC(20,0) NOT NULL,
	sell_value        NUMERIC(20,0) NOT NULL,
	sell_amount       NUMERIC(20,0) NOT NULL,
	traded_value      NUMERIC(20,0) NOT NULL,
	traded_amount     NUMERIC(20,0) NOT NULL,
	address_index     JSONB NOT NULL DEFAULT '{}',
	buy_offers        JSONB NOT NULL DEFAULT '[]',
	sell_offers       JSONB NOT NULL DEFAULT '[]',
	filled_offers     JSONB NOT NULL DEFAULT '[]',
	closed_offers     JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS offers (
	id               TEXT PRIMARY KEY,
	market_id        TEXT NOT NULL REFERENCES markets(id),
	variant          TEXT NOT NULL,
	status           TEXT NOT NULL,
	is_buy           BOOLEAN NOT NULL,
	creator          TEXT NOT NULL,
	filler           TEXT NOT NULL DEFAULT '',
	fillers          JSONB NOT NULL DEFAULT '{}',
	filler_order     JSONB NOT NULL DEFAULT '[]',
	settled_fillers  JSONB NOT NULL DEFAULT '[]',
	filled_amount    NUMERIC(20,0) NOT NULL,
	amount           NUMERIC(20,0) NOT NULL,
	collateral_value NUMERIC(20,0) NOT NULL,
	cancelled        BOOLEAN NOT NULL DEFAULT FALSE,
	balance          NUMERIC(20,0) NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS offers_market_idx ON offers(market_id);
CREATE INDEX IF NOT EXISTS offers_creator_idx ON offers(creator);

CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL,
	object_id TEXT NOT NULL,
	at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_object_idx ON events(object_id);

CREATE TABLE IF NOT EXISTS payouts (
	id        TEXT PRIMARY KEY,
	offer_id  TEXT NOT NULL,
	market_id TEXT NOT NULL,
	recipient TEXT NOT NULL,
	value     NUMERIC(20,0) NOT NULL,
	reason    TEXT NOT NULL,
	at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payouts_recipient_idx ON payouts(recipient);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) SaveMarket(ctx context.Context, m *model.MarketView) error {
	addressIndex, _ := json.Marshal(m.AddressIndex)
	buyOffers, _ := json.Marshal(m.BuyOffers)
	sellOffers, _ := json.Marshal(m.SellOffers)
	filledOffers, _ := json.Marshal(m.FilledOffers)
	closedOffers, _ := json.Marshal(m.ClosedOffers)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, name, url, symbol, fee_pct, fee_balance,
		                      coin_type, coin_decimals, settlement_end_at,
		                      buy_value, buy_amount, sell_value, sell_amount,
		                      traded_value, traded_amount,
		                      address_index, buy_offers, sell_offers, filled_offers, closed_offers,
		                      created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC,
		         $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (id) DO UPDATE SET
		    fee_balance = EXCLUDED.fee_balance,
		    coin_type = EXCLUDED.coin_type,
		    coin_decimals = EXCLUDED.coin_decimals,
		    settlement_end_at = EXCLUDED.settlement_end_at,
		    buy_value = EXCLUDED.buy_value, buy_amount = EXCLUDED.buy_amount,
		    sell_value = EXCLUDED.sell_value, sell_amount = EXCLUDED.sell_amount,
		    traded_value = EXCLUDED.traded_value, traded_amount = EXCLUDED.traded_amount,
		    address_index = EXCLUDED.address_index,
		    buy_offers = EXCLUDED.buy_offers, sell_offers = EXCLUDED.sell_offers,
		    filled_offers = EXCLUDED.filled_offers, closed_offers = EXCLUDED.closed_offers`,
		m.ID, m.Name, m.URL, m.Symbol, m.FeePct, u64s(m.FeeBalance),
		m.CoinType, m.CoinDecimals, m.SettlementEndAt,
		u64s(m.BuyValue), u64s(m.BuyAmount), u64s(m.SellValue), u64s(m.SellAmount),
		u64s(m.TradedValue), u64s(m.TradedAmount),
		addressIndex, buyOffers, sellOffers, filledOffers, closedOffers,
		m.CreatedAt,
	)
	return err
}

const marketColumns = `id, name, url, symbol, fee_pct, fee_balance::TEXT,
	coin_type, coin_decimals, settlement_end_at,
	buy_value::TEXT, buy_amount::TEXT, sell_value::TEXT, sell_amount::TEXT,
	traded_value::TEXT, traded_amount::TEXT,
	address_index, buy_offers, sell_offers, filled_offers, closed_offers,
	created_at`

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.MarketView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, notFoundOr(err))
	}
	return m, nil
}

func (s *PostgresStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.MarketView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE symbol = $1`, symbol)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market by symbol %s: %w", symbol, notFoundOr(err))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.MarketView, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.MarketView
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SaveOffer(ctx context.Context, o *model.OfferView) error {
	fillers, _ := json.Marshal(o.Fillers)
	fillerOrder, _ := json.Marshal(o.FillerOrder)
	settledFillers, _ := json.Marshal(o.SettledFillers)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO offers (id, market_id, variant, status, is_buy, creator, filler,
		                     fillers, filler_order, settled_fillers,
		                     filled_amount, amount, collateral_value, cancelled, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14, $15::NUMERIC, $16)
		 ON CONFLICT (id) DO UPDATE SET
		    status = EXCLUDED.status,
		    filler = EXCLUDED.filler,
		    fillers = EXCLUDED.fillers,
		    filler_order = EXCLUDED.filler_order,
		    settled_fillers = EXCLUDED.settled_fillers,
		    filled_amount = EXCLUDED.filled_amount,
		    cancelled = EXCLUDED.cancelled,
		    balance = EXCLUDED.balance`,
		o.ID, o.MarketID, o.Variant, o.Status, o.IsBuy, o.Creator, o.Filler,
		fillers, fillerOrder, settledFillers,
		u64s(o.FilledAmount), u64s(o.Amount), u64s(o.CollateralValue), o.Cancelled, u64s(o.Balance),
		o.CreatedAt,
	)
	return err
}

const offerColumns = `id, market_id, variant, status, is_buy, creator, filler,
	fillers, filler_order, settled_fillers,
	filled_amount::TEXT, amount::TEXT, collateral_value::TEXT, cancelled, balance::TEXT,
	created_at`

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*model.OfferView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	o, err := scanOffer(row)
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", id, notFoundOr(err))
	}
	return o, nil
}

func (s *PostgresStore) ListOffersByMarket(ctx context.Context, marketID string) ([]model.OfferView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOffers(rows)
}

func (s *PostgresStore) ListOffersByAddress(ctx context.Context, addr string) ([]model.OfferView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM offers
		 WHERE creator = $1 OR filler = $1 OR fillers ? $1
		 ORDER BY created_at`, addr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOffers(rows)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.EventRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, type, object_id, at) VALUES ($1, $2, $3, $4)`,
		e.ID, e.Type, e.ObjectID, e.At,
	)
	return err
}

func (s *PostgresStore) ListEventsByObject(ctx context.Context, objectID string) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, object_id, at FROM events WHERE object_id = $1 ORDER BY at`, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		if err := rows.Scan(&e.ID, &e.Type, &e.ObjectID, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) AppendPayout(ctx context.Context, p *model.PayoutRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payouts (id, offer_id, market_id, recipient, value, reason, at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		p.ID, p.OfferID, p.MarketID, p.Recipient, u64s(p.Value), p.Reason, p.At,
	)
	return err
}

func (s *PostgresStore) ListPayoutsByRecipient(ctx context.Context, recipient string) ([]model.PayoutRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, offer_id, market_id, recipient, value::TEXT, reason, at
		 FROM payouts WHERE recipient = $1 ORDER BY at`, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []model.PayoutRecord
	for rows.Next() {
		var p model.PayoutRecord
		var valueS string
		if err := rows.Scan(&p.ID, &p.OfferID, &p.MarketID, &p.Recipient, &valueS, &p.Reason, &p.At); err != nil {
			return nil, err
		}
		p.Value = u64p(valueS)
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// --- row scanning ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMarket(row pgxRow) (*model.MarketView, error) {
	var m model.MarketView
	var feeBalance, buyValue, buyAmount, sellValue, sellAmount, tradedValue, tradedAmount string
	var addressIndex, buyOffers, sellOffers, filledOffers, closedOffers []byte

	err := row.Scan(&m.ID, &m.Name, &m.URL, &m.Symbol, &m.FeePct, &feeBalance,
		&m.CoinType, &m.CoinDecimals, &m.SettlementEndAt,
		&buyValue, &buyAmount, &sellValue, &sellAmount,
		&tradedValue, &tradedAmount,
		&addressIndex, &buyOffers, &sellOffers, &filledOffers, &closedOffers,
		&m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.FeeBalance = u64p(feeBalance)
	m.BuyValue, m.BuyAmount = u64p(buyValue), u64p(buyAmount)
	m.SellValue, m.SellAmount = u64p(sellValue), u64p(sellAmount)
	m.TradedValue, m.TradedAmount = u64p(tradedValue), u64p(tradedAmount)
	json.Unmarshal(addressIndex, &m.AddressIndex)
	json.Unmarshal(buyOffers, &m.BuyOffers)
	json.Unmarshal(sellOffers, &m.SellOffers)
	json.Unmarshal(filledOffers, &m.FilledOffers)
	json.Unmarshal(closedOffers, &m.ClosedOffers)
	return &m, nil
}

func scanOffer(row pgxRow) (*model.OfferView, error) {
	var o model.OfferView
	var filledAmount, amount, collateralValue, balance string
	var fillers, fillerOrder, settledFillers []byte

	err := row.Scan(&o.ID, &o.MarketID, &o.Variant, &o.Status, &o.IsBuy, &o.Creator, &o.Filler,
		&fillers, &fillerOrder, &settledFillers,
		&filledAmount, &amount, &collateralValue, &o.Cancelled, &balance,
		&o.CreatedAt)
	if err != nil {
		return nil, err
	}

	o.FilledAmount = u64p(filledAmount)
	o.Amount = u64p(amount)
	o.CollateralValue = u64p(collateralValue)
	o.Balance = u64p(balance)
	json.Unmarshal(fillers, &o.Fillers)
	json.Unmarshal(fillerOrder, &o.FillerOrder)
	json.Unmarshal(settledFillers, &o.SettledFillers)
	return &o, nil
}

func scanOffers(rows pgxRows) ([]model.OfferView, error) {
	var offers []model.OfferView
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

// notFoundOr maps pgx's no-rows error to the store's ErrNotFound sentinel.
func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// u64s / u64p convert uint64 to and from the NUMERIC text representation.
func u64s(v uint64) string { return strconv.FormatUint(v, 10) }

func u64p(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
