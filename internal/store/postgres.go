package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("migrate %s: %w", n, err)
		}
	}
	return nil
}

func (p *Postgres) GetIntegrationSettings(ctx context.Context, restaurantID string) (model.IntegrationSettings, error) {
	row := p.db.QueryRowContext(ctx, `SELECT restaurant_id, merchant_id, access_token, token_expires_at, is_enabled, auto_accept, last_sync_at FROM marketplace_settings WHERE restaurant_id=$1`, restaurantID)
	return scanSettings(row)
}

func (p *Postgres) GetSettingsByMerchant(ctx context.Context, merchantID string) (model.IntegrationSettings, error) {
	row := p.db.QueryRowContext(ctx, `SELECT restaurant_id, merchant_id, access_token, token_expires_at, is_enabled, auto_accept, last_sync_at FROM marketplace_settings WHERE merchant_id=$1`, merchantID)
	return scanSettings(row)
}

func scanSettings(row *sql.Row) (model.IntegrationSettings, error) {
	var s model.IntegrationSettings
	var token sql.NullString
	var expires, lastSync sql.NullTime
	if err := row.Scan(&s.RestaurantID, &s.MerchantID, &token, &expires, &s.IsEnabled, &s.AutoAccept, &lastSync); err != nil {
		if errors.Is(err, sql.ErrNoRows) { return s, ErrNotFound }
		return s, err
	}
	s.AccessToken = token.String
	if expires.Valid { s.TokenExpiresAt = expires.Time }
	if lastSync.Valid { t := lastSync.Time; s.LastSyncAt = &t }
	return s, nil
}

func (p *Postgres) ListEnabledIntegrations(ctx context.Context) ([]model.IntegrationSettings, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT restaurant_id, merchant_id, access_token, token_expires_at, is_enabled, auto_accept, last_sync_at FROM marketplace_settings WHERE is_enabled ORDER BY restaurant_id`)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []model.IntegrationSettings{}
	for rows.Next() {
		var s model.IntegrationSettings
		var token sql.NullString
		var expires, lastSync sql.NullTime
		if err := rows.Scan(&s.RestaurantID, &s.MerchantID, &token, &expires, &s.IsEnabled, &s.AutoAccept, &lastSync); err != nil { return nil, err }
		s.AccessToken = token.String
		if expires.Valid { s.TokenExpiresAt = expires.Time }
		if lastSync.Valid { t := lastSync.Time; s.LastSyncAt = &t }
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) TouchLastSync(ctx context.Context, restaurantID string, ts time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE marketplace_settings SET last_sync_at=$1 WHERE restaurant_id=$2`, ts, restaurantID)
	return err
}

// InsertMirror is a conditional insert keyed on (restaurant_id,
// external_order_id); the unique constraint is the last line of defense
// against concurrent ingestion of the same order.
func (p *Postgres) InsertMirror(ctx context.Context, m model.MirroredOrder) (string, error) {
	id := m.ID
	if id == "" { id = uuid.New().String() }
	row := p.db.QueryRowContext(ctx, `INSERT INTO marketplace_orders
		(id, restaurant_id, external_order_id, external_display_id, raw_payload, status, order_timing, order_type, delivered_by, scheduled_to, pickup_code, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (restaurant_id, external_order_id) DO NOTHING
		RETURNING id::text`,
		id, m.RestaurantID, m.ExternalOrderID, nullIfEmpty(m.ExternalDisplayID), rawOrNull(m.RawPayload), m.Status,
		nullIfEmpty(m.OrderTiming), nullIfEmpty(m.OrderType), nullIfEmpty(m.DeliveredBy), m.ScheduledTo, nullIfEmpty(m.PickupCode), m.ExpiresAt)
	var out string
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) { return "", ErrDuplicate }
		return "", err
	}
	return out, nil
}

func (p *Postgres) GetMirror(ctx context.Context, restaurantID, externalOrderID string) (model.MirroredOrder, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, restaurant_id, external_order_id, external_display_id, raw_payload, status, order_timing, order_type, delivered_by, scheduled_to, preparation_started_at, pickup_code, expires_at, local_order_id::text, rejection_reason, cancellation_code, created_at, updated_at
		FROM marketplace_orders WHERE restaurant_id=$1 AND external_order_id=$2`, restaurantID, externalOrderID)
	return scanMirror(row.Scan)
}

func scanMirror(scan func(dest ...any) error) (model.MirroredOrder, error) {
	var m model.MirroredOrder
	var displayID, timing, otype, deliveredBy, pickup, localID, reason, code sql.NullString
	var scheduled, prepStarted sql.NullTime
	var raw []byte
	err := scan(&m.ID, &m.RestaurantID, &m.ExternalOrderID, &displayID, &raw, &m.Status, &timing, &otype, &deliveredBy, &scheduled, &prepStarted, &pickup, &m.ExpiresAt, &localID, &reason, &code, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { return m, ErrNotFound }
		return m, err
	}
	m.ExternalDisplayID = displayID.String
	m.RawPayload = raw
	m.OrderTiming = timing.String
	m.OrderType = otype.String
	m.DeliveredBy = deliveredBy.String
	if scheduled.Valid { t := scheduled.Time; m.ScheduledTo = &t }
	if prepStarted.Valid { t := prepStarted.Time; m.PreparationStartedAt = &t }
	m.PickupCode = pickup.String
	m.LocalOrderID = localID.String
	m.RejectionReason = reason.String
	m.CancellationCode = code.String
	return m, nil
}

func (p *Postgres) PatchMirror(ctx context.Context, restaurantID, externalOrderID string, patch model.MirrorPatch) (model.MirroredOrder, error) {
	sets := []string{"updated_at=now()"}
	args := []any{}
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }
	if patch.Status != "" { sets = append(sets, "status="+arg(patch.Status)) }
	if patch.LocalOrderID != nil { sets = append(sets, "local_order_id="+arg(*patch.LocalOrderID)) }
	if patch.RejectionReason != nil { sets = append(sets, "rejection_reason="+arg(*patch.RejectionReason)) }
	if patch.CancellationCode != nil { sets = append(sets, "cancellation_code="+arg(*patch.CancellationCode)) }
	if patch.PreparationStartedAt != nil { sets = append(sets, "preparation_started_at="+arg(*patch.PreparationStartedAt)) }
	if patch.PickupCode != nil { sets = append(sets, "pickup_code="+arg(*patch.PickupCode)) }
	q := fmt.Sprintf(`UPDATE marketplace_orders SET %s WHERE restaurant_id=%s AND external_order_id=%s`,
		strings.Join(sets, ", "), arg(restaurantID), arg(externalOrderID))
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil { return model.MirroredOrder{}, err }
	if n, _ := res.RowsAffected(); n == 0 { return model.MirroredOrder{}, ErrNotFound }
	return p.GetMirror(ctx, restaurantID, externalOrderID)
}

func (p *Postgres) ListMirrors(ctx context.Context, restaurantID, status, cursor string, limit int) ([]model.MirroredOrder, string, error) {
	if limit <= 0 || limit > 500 { limit = 100 }
	q := `SELECT id::text, restaurant_id, external_order_id, external_display_id, raw_payload, status, order_timing, order_type, delivered_by, scheduled_to, preparation_started_at, pickup_code, expires_at, local_order_id::text, rejection_reason, cancellation_code, created_at, updated_at
		FROM marketplace_orders WHERE restaurant_id=$1`
	args := []any{restaurantID}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(" AND id::text > $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil { return nil, "", err }
	defer rows.Close()
	out := []model.MirroredOrder{}
	var last string
	for rows.Next() {
		m, err := scanMirror(rows.Scan)
		if err != nil { return nil, "", err }
		out = append(out, m)
		last = m.ID
	}
	next := ""
	if len(out) == limit { next = last }
	return out, next, rows.Err()
}

// CreateLocalOrder writes the order and its items in one transaction so a
// half-written order is never observable.
func (p *Postgres) CreateLocalOrder(ctx context.Context, draft model.LocalOrderDraft) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil { return "", err }
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, `INSERT INTO orders
		(id, restaurant_id, order_type, status, order_number, customer_name, delivery_phone, delivery_address, delivery_fee, total, payment_method, notes, print_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		id, draft.RestaurantID, draft.OrderType, draft.Status, draft.OrderNumber, draft.CustomerName,
		draft.DeliveryPhone, draft.DeliveryAddress, draft.DeliveryFee, draft.Total, draft.PaymentMethod, draft.Notes, draft.PrintStatus)
	if err != nil { return "", err }
	for _, it := range draft.Items {
		_, err = tx.ExecContext(ctx, `INSERT INTO order_items (id, restaurant_id, order_id, product_name, unit_price, quantity, notes) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			uuid.New().String(), draft.RestaurantID, id, it.ProductName, it.UnitPrice, it.Quantity, it.Notes)
		if err != nil { return "", err }
	}
	if err := tx.Commit(); err != nil { return "", err }
	return id, nil
}

func (p *Postgres) SetLocalOrderStatus(ctx context.Context, restaurantID, orderID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status=$1 WHERE restaurant_id=$2 AND id=$3`, status, restaurantID, orderID)
	if err != nil { return err }
	if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
	return nil
}

func (p *Postgres) NextOrderNumber(ctx context.Context, restaurantID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `INSERT INTO order_counters (restaurant_id, last_number) VALUES ($1, 1)
		ON CONFLICT (restaurant_id) DO UPDATE SET last_number = order_counters.last_number + 1
		RETURNING last_number`, restaurantID).Scan(&n)
	if err != nil { return 0, err }
	return n, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.NotificationSubscription) (model.NotificationSubscription, error) {
	sub.ID = uuid.New().String()
	events, _ := json.Marshal(sub.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO notify_subscriptions (id, restaurant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		sub.ID, sub.RestaurantID, sub.URL, events, nullIfEmpty(sub.Secret))
	if err != nil { return model.NotificationSubscription{}, err }
	return sub, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, restaurantID, eventType string) ([]model.NotificationSubscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, restaurant_id, url, events, secret FROM notify_subscriptions WHERE restaurant_id=$1`, restaurantID)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []model.NotificationSubscription
	for rows.Next() {
		var s model.NotificationSubscription
		var events []byte
		var secret sql.NullString
		if err := rows.Scan(&s.ID, &s.RestaurantID, &s.URL, &events, &secret); err != nil { return nil, err }
		_ = json.Unmarshal(events, &s.Events)
		s.Secret = secret.String
		for _, e := range s.Events {
			if e == eventType { out = append(out, s); break }
		}
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueNotification(ctx context.Context, restaurantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO notify_deliveries (id, restaurant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
		id, restaurantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil { return "", err }
	return id, nil
}

func (p *Postgres) FetchDueNotifications(ctx context.Context, limit int) ([]NotificationDelivery, error) {
	if limit <= 0 { limit = 50 }
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, restaurant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM notify_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil { return nil, err }
	defer rows.Close()
	out := []NotificationDelivery{}
	for rows.Next() {
		var d NotificationDelivery
		if err := rows.Scan(&d.ID, &d.RestaurantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkNotification(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE notify_deliveries SET status='delivered', attempts=attempts+1, response_code=$1, delivered_at=now() WHERE id=$2`, responseCode, id)
		return err
	}
	next := time.Now().Add(1 * time.Minute)
	if nextAttemptAt != nil { next = *nextAttemptAt }
	_, err := p.db.ExecContext(ctx, `UPDATE notify_deliveries SET status='retry', attempts=attempts+1, next_attempt_at=$1, last_error=$2, response_code=$3 WHERE id=$4`,
		next, nullIfEmpty(lastError), responseCode, id)
	return err
}

func (p *Postgres) FailNotification(ctx context.Context, id string, lastError string, responseCode int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE notify_deliveries SET status='failed', last_error=$1, response_code=$2 WHERE id=$3`,
		nullIfEmpty(lastError), responseCode, id)
	return err
}

// Helpers
func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
func rawOrNull(b []byte) any { if len(b) == 0 { return nil }; return b }
