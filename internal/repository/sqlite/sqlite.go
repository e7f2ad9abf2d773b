// Package sqlite implements the domain repositories on a single SQLite file.
//
// The database is opened in WAL mode with _txlock=immediate, so every
// transaction takes the write lock when it begins. Reconciliations and
// status transitions are therefore serialized database-wide.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"github.com/xenking/kart-coupons/internal/domain/auth"
	"github.com/xenking/kart-coupons/internal/domain/coupon"
	"github.com/xenking/kart-coupons/internal/domain/order"
	"github.com/xenking/kart-coupons/internal/domain/product"
	"github.com/xenking/kart-coupons/internal/domain/usage"
)

var (
	_ product.Repository = (*Store)(nil)
	_ coupon.Repository  = (*Store)(nil)
	_ order.Repository   = (*Store)(nil)
	_ auth.Repository    = (*Store)(nil)
	_ usage.Store        = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	price TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	image_thumbnail TEXT NOT NULL DEFAULT '',
	image_mobile TEXT NOT NULL DEFAULT '',
	image_tablet TEXT NOT NULL DEFAULT '',
	image_desktop TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS coupons (
	code TEXT PRIMARY KEY,
	discount_type TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '0',
	min_items INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	valid_from TEXT,
	valid_until TEXT,
	usage_limit INTEGER NOT NULL DEFAULT 0,
	usage_count INTEGER NOT NULL DEFAULT 0,
	count_by_quantity INTEGER NOT NULL DEFAULT 0,
	individual_use_only INTEGER NOT NULL DEFAULT 0,
	max_discount TEXT NOT NULL DEFAULT '0',
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	items TEXT NOT NULL,
	coupon_codes TEXT NOT NULL DEFAULT '[]',
	total TEXT NOT NULL,
	discounts TEXT NOT NULL,
	usage_recorded INTEGER NOT NULL DEFAULT 0,
	usage_adjusted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS coupon_usage_adjustments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL REFERENCES coupons (code),
	order_id TEXT NOT NULL REFERENCES orders (id),
	previous_count INTEGER NOT NULL,
	current_count INTEGER NOT NULL,
	discounted_units INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (code, order_id)
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	key_hash TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	scopes TEXT NOT NULL DEFAULT '[]',
	active INTEGER NOT NULL DEFAULT 1
);
`

const (
	productColumns = `id, name, price, category, image_thumbnail, image_mobile, image_tablet, image_desktop`

	couponColumns = `code, discount_type, value, min_items, description,
		valid_from, valid_until, usage_limit, usage_count,
		count_by_quantity, individual_use_only, max_discount`

	orderColumns = `id, status, items, coupon_codes, total, discounts,
		usage_recorded, usage_adjusted, created_at, updated_at`
)

// Store implements every repository on one SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens or creates the database at path and applies the schema. Use
// ":memory:" for a private in-memory database.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// List returns all products ordered by ID.
func (s *Store) List(ctx context.Context) ([]product.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

// GetByID returns a single product.
func (s *Store) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.Category,
		&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the products matching any of ids.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` + placeholders(len(ids)) + `)`
	return s.queryProducts(ctx, query, lo.ToAnySlice(ids)...)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]product.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Price, &p.Category,
			&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop,
		); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProduct inserts a product or replaces the stored one.
func (s *Store) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, price = excluded.price, category = excluded.category,
			image_thumbnail = excluded.image_thumbnail, image_mobile = excluded.image_mobile,
			image_tablet = excluded.image_tablet, image_desktop = excluded.image_desktop`,
		p.ID, p.Name, p.Price.String(), p.Category,
		p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// FindByCode looks up an active coupon by code, case-insensitively.
func (s *Store) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return queryCoupon(ctx, s.db, `SELECT `+couponColumns+` FROM coupons WHERE code = ? AND active = 1`, coupon.NormalizeCode(code))
}

// UpdateSettings stores normalized settings for a coupon.
func (s *Store) UpdateSettings(ctx context.Context, code string, settings coupon.Settings) (*coupon.Coupon, error) {
	settings = settings.Normalize()
	return queryCoupon(ctx, s.db, `UPDATE coupons
		SET count_by_quantity = ?, individual_use_only = ?
		WHERE code = ? AND active = 1
		RETURNING `+couponColumns,
		settings.CountByQuantity, settings.IndividualUseOnly, coupon.NormalizeCode(code),
	)
}

// ListAdjustments returns the usage corrections of a coupon, oldest first.
func (s *Store) ListAdjustments(ctx context.Context, code string) ([]coupon.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, order_id, previous_count, current_count, discounted_units, created_at
		FROM coupon_usage_adjustments WHERE code = ? ORDER BY id`, coupon.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("listing adjustments of %q: %w", code, err)
	}
	defer func() { _ = rows.Close() }()

	var out []coupon.Adjustment
	for rows.Next() {
		var (
			a         coupon.Adjustment
			createdAt string
		)
		if err := rows.Scan(&a.Code, &a.OrderID, &a.Previous, &a.Current, &a.DiscountedUnits, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning adjustment: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertCoupon inserts a coupon or overwrites the definition of an existing
// one, keeping its usage counter.
func (s *Store) UpsertCoupon(ctx context.Context, c coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	c.Apply(c.Settings())
	_, err := s.db.ExecContext(ctx, `INSERT INTO coupons (code, discount_type, value, min_items, description,
		valid_from, valid_until, usage_limit, count_by_quantity, individual_use_only, max_discount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = excluded.discount_type, value = excluded.value,
			min_items = excluded.min_items, description = excluded.description,
			valid_from = excluded.valid_from, valid_until = excluded.valid_until,
			usage_limit = excluded.usage_limit, count_by_quantity = excluded.count_by_quantity,
			individual_use_only = excluded.individual_use_only, max_discount = excluded.max_discount,
			active = 1`,
		c.Code, string(c.DiscountType), c.Value.String(), c.MinItems, c.Description,
		formatTimePtr(c.ValidFrom), formatTimePtr(c.ValidUntil),
		c.UsageLimit, c.CountByQuantity, c.IndividualUseOnly, c.MaxDiscount.String(),
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// Create stores a new order.
func (s *Store) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	codesJSON, err := json.Marshal(lo.Uniq(o.CouponCodes))
	if err != nil {
		return fmt.Errorf("marshaling coupon codes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO orders (id, status, items, coupon_codes, total, discounts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, string(o.Status), string(itemsJSON), string(codesJSON),
		o.Total.String(), o.Discounts.String(), formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns a stored order or order.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*order.Order, error) {
	return queryOrder(ctx, s.db, id)
}

// Transition applies a status change and records one use of every applied
// coupon on the first paid status, in one immediate transaction.
func (s *Store) Transition(ctx context.Context, id string, next order.Status) (order.Status, *order.Order, error) {
	var (
		from order.Status
		out  *order.Order
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		o, err := queryOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		from = o.Status

		record, err := o.Transition(next)
		if err != nil {
			return err
		}
		if record {
			codes := slices.Clone(o.CouponCodes)
			slices.Sort(codes)
			for _, code := range codes {
				if _, err := tx.ExecContext(ctx, `UPDATE coupons SET usage_count = usage_count + 1 WHERE code = ?`, code); err != nil {
					return fmt.Errorf("recording usage of %q: %w", code, err)
				}
			}
		}

		o.UpdatedAt = s.now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, usage_recorded = ?, updated_at = ? WHERE id = ?`,
			string(o.Status), o.UsageRecorded, formatTime(o.UpdatedAt), o.ID,
		); err != nil {
			return fmt.Errorf("updating order status: %w", err)
		}
		out = o
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("transitioning order %q: %w", id, err)
	}
	return from, out, nil
}

// FindByHash looks up an active API key by its hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		info   auth.APIKeyInfo
		scopes string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, key_hash, name, scopes FROM api_keys WHERE key_hash = ? AND active = 1`, hash).
		Scan(&info.ID, &info.KeyHash, &info.Name, &scopes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &info.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}
	return &info, nil
}

// UpsertAPIKey stores an API key, reactivating it if it was disabled.
func (s *Store) UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	scopes, err := json.Marshal(info.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO api_keys (id, key_hash, name, scopes) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET key_hash = excluded.key_hash, name = excluded.name, scopes = excluded.scopes, active = 1`,
		info.ID, info.KeyHash, info.Name, string(scopes),
	)
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}

// WithTx runs fn in an immediate transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx usage.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &usageTx{tx: tx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type usageTx struct {
	tx *sql.Tx
}

func (t *usageTx) LockOrder(ctx context.Context, id string) (*order.Order, error) {
	return queryOrder(ctx, t.tx, id)
}

func (t *usageTx) LockCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	return queryCoupon(ctx, t.tx, `SELECT `+couponColumns+` FROM coupons WHERE code = ?`, coupon.NormalizeCode(code))
}

func (t *usageTx) SetUsageCount(ctx context.Context, code string, count int) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE coupons SET usage_count = ? WHERE code = ?`, count, coupon.NormalizeCode(code)); err != nil {
		return fmt.Errorf("setting usage count of %q: %w", code, err)
	}
	return nil
}

func (t *usageTx) RecordAdjustment(ctx context.Context, a coupon.Adjustment) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO coupon_usage_adjustments
		(code, order_id, previous_count, current_count, discounted_units, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Code, a.OrderID, a.Previous, a.Current, a.DiscountedUnits, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording adjustment of %q: %w", a.Code, err)
	}
	return nil
}

func (t *usageTx) MarkUsageAdjusted(ctx context.Context, orderID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET usage_adjusted = 1 WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("marking order %q adjusted: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return order.ErrNotFound
	}
	return nil
}

func queryCoupon(ctx context.Context, q execQuerier, query string, args ...any) (*coupon.Coupon, error) {
	var (
		c                     coupon.Coupon
		discountType          string
		validFrom, validUntil sql.NullString
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&c.Code, &discountType, &c.Value, &c.MinItems, &c.Description,
		&validFrom, &validUntil, &c.UsageLimit, &c.UsageCount,
		&c.CountByQuantity, &c.IndividualUseOnly, &c.MaxDiscount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	c.DiscountType = coupon.DiscountType(discountType)
	if c.ValidFrom, err = parseNullTime(validFrom); err != nil {
		return nil, err
	}
	if c.ValidUntil, err = parseNullTime(validUntil); err != nil {
		return nil, err
	}
	return &c, nil
}

func queryOrder(ctx context.Context, q execQuerier, id string) (*order.Order, error) {
	var (
		o                    order.Order
		status               string
		items, codes         string
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id).Scan(
		&o.ID, &status, &items, &codes, &o.Total, &o.Discounts,
		&o.UsageRecorded, &o.UsageAdjusted, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}

	o.Status = order.Status(status)
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal([]byte(codes), &o.CouponCodes); err != nil {
		return nil, fmt.Errorf("unmarshaling coupon codes: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
