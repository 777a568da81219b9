package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// 快照查询,读取业务库中的只读视图
const (
	materialsQuery = `SELECT id, name, COALESCE(unit, ''), current_stock, reorder_point,
		COALESCE(preferred_vendor_id, 0), COALESCE(last_unit_cost, 0), COALESCE(on_order, false)
		FROM raw_materials`
	quotesQuery = `SELECT raw_material_id, vendor_id, unit_cost, quoted_at, valid_until
		FROM vendor_quotes WHERE quoted_at > $1`
	vendorsQuery = `SELECT id, name, COALESCE(email, '') FROM vendors`
	emailsQuery  = `SELECT id, COALESCE(message_id, ''), from_address, COALESCE(subject, ''), COALESCE(body, ''),
		COALESCE(classification, ''), COALESCE(classification_confidence, 0), COALESCE(vendor_id, 0),
		replied, received_at
		FROM inbound_emails WHERE replied = false`
)

// quoteHistory 报价历史回溯窗口
const quoteHistory = 365 * 24 * time.Hour

// PostgresProvider 基于 pgx 连接池的快照提供者
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider 创建 Postgres 快照提供者
func NewPostgresProvider(ctx context.Context, dsn string) (*PostgresProvider, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot pool: %w", err)
	}
	return &PostgresProvider{pool: pool}, nil
}

// Close 关闭连接池
func (p *PostgresProvider) Close() {
	p.pool.Close()
}

// Snapshot 在只读事务中读取一致快照
func (p *PostgresProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &Snapshot{TakenAt: time.Now()}

	rows, err := tx.Query(ctx, materialsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query materials: %w", err)
	}
	s.Materials, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Material, error) {
		var m Material
		err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.CurrentStock, &m.ReorderPoint, &m.PreferredVendorID, &m.LastUnitCost, &m.OnOrder)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan materials: %w", err)
	}

	rows, err = tx.Query(ctx, quotesQuery, s.TakenAt.Add(-quoteHistory))
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	s.Quotes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Quote, error) {
		var q Quote
		err := row.Scan(&q.RawMaterialID, &q.VendorID, &q.UnitCost, &q.QuotedAt, &q.ValidUntil)
		return q, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan quotes: %w", err)
	}

	rows, err = tx.Query(ctx, vendorsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	s.Vendors, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Vendor, error) {
		var v Vendor
		err := row.Scan(&v.ID, &v.Name, &v.Email)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan vendors: %w", err)
	}

	rows, err = tx.Query(ctx, emailsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	s.Emails, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Email, error) {
		var e Email
		err := row.Scan(&e.ID, &e.MessageID, &e.From, &e.Subject, &e.Body, &e.Classification,
			&e.ClassificationConfidence, &e.VendorID, &e.Replied, &e.ReceivedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan emails: %w", err)
	}

	return s, nil
}
