package snapshot

import (
	"context"
	"math"
	"time"
)

// Provider 状态快照提供者,只读、拉取式
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ProviderFunc 函数适配器
type ProviderFunc func(ctx context.Context) (*Snapshot, error)

// Snapshot 调用 f
func (f ProviderFunc) Snapshot(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// Snapshot 某一时刻的运营状态
type Snapshot struct {
	TakenAt   time.Time  `json:"taken_at" yaml:"taken_at"`
	Materials []Material `json:"materials" yaml:"materials"`
	Quotes    []Quote    `json:"quotes" yaml:"quotes"`
	Vendors   []Vendor   `json:"vendors" yaml:"vendors"`
	Emails    []Email    `json:"emails" yaml:"emails"`
}

// Material 原材料库存
type Material struct {
	ID                int64   `json:"id" yaml:"id"`
	Name              string  `json:"name" yaml:"name"`
	Unit              string  `json:"unit" yaml:"unit"`
	CurrentStock      float64 `json:"current_stock" yaml:"current_stock"`
	ReorderPoint      float64 `json:"reorder_point" yaml:"reorder_point"`
	PreferredVendorID int64   `json:"preferred_vendor_id,omitempty" yaml:"preferred_vendor_id,omitempty"`
	LastUnitCost      float64 `json:"last_unit_cost,omitempty" yaml:"last_unit_cost,omitempty"`
	OnOrder           bool    `json:"on_order" yaml:"on_order"`
}

// Quote 供应商报价
type Quote struct {
	RawMaterialID int64      `json:"raw_material_id" yaml:"raw_material_id"`
	VendorID      int64      `json:"vendor_id" yaml:"vendor_id"`
	UnitCost      float64    `json:"unit_cost" yaml:"unit_cost"`
	QuotedAt      time.Time  `json:"quoted_at" yaml:"quoted_at"`
	ValidUntil    *time.Time `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}

// Vendor 供应商
type Vendor struct {
	ID    int64  `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// Email 已分类的来信
type Email struct {
	ID                       int64     `json:"id" yaml:"id"`
	MessageID                string    `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	From                     string    `json:"from" yaml:"from"`
	Subject                  string    `json:"subject" yaml:"subject"`
	Body                     string    `json:"body,omitempty" yaml:"body,omitempty"`
	Classification           string    `json:"classification" yaml:"classification"`
	ClassificationConfidence float64   `json:"classification_confidence" yaml:"classification_confidence"`
	VendorID                 int64     `json:"vendor_id,omitempty" yaml:"vendor_id,omitempty"`
	Replied                  bool      `json:"replied" yaml:"replied"`
	ReceivedAt               time.Time `json:"received_at" yaml:"received_at"`
}

// BestQuote 返回物料当前有效的最低报价
func (s *Snapshot) BestQuote(materialID int64) (Quote, bool) {
	var best Quote
	found := false
	for _, q := range s.Quotes {
		if q.RawMaterialID != materialID || q.UnitCost <= 0 {
			continue
		}
		if q.ValidUntil != nil && q.ValidUntil.Before(s.TakenAt) {
			continue
		}
		if !found || q.UnitCost < best.UnitCost {
			best = q
			found = true
		}
	}
	return best, found
}

// QuotingVendors 返回为物料报过价的供应商,按 ID 去重并保持出现顺序
func (s *Snapshot) QuotingVendors(materialID int64) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, q := range s.Quotes {
		if q.RawMaterialID == materialID && !seen[q.VendorID] {
			seen[q.VendorID] = true
			ids = append(ids, q.VendorID)
		}
	}
	return ids
}

// Vendor 按 ID 查找供应商
func (s *Snapshot) Vendor(id int64) (Vendor, bool) {
	for _, v := range s.Vendors {
		if v.ID == id {
			return v, true
		}
	}
	return Vendor{}, false
}

// MaterialFields 构造物料主体的谓词字段
func (s *Snapshot) MaterialFields(m Material) map[string]interface{} {
	f := map[string]interface{}{
		"id":            m.ID,
		"name":          m.Name,
		"unit":          m.Unit,
		"current_stock": m.CurrentStock,
		"reorder_point": m.ReorderPoint,
		"on_order":      m.OnOrder,
	}
	if m.ReorderPoint > 0 {
		f["stock_ratio"] = m.CurrentStock / m.ReorderPoint
	}
	if m.PreferredVendorID > 0 {
		f["preferred_vendor_id"] = m.PreferredVendorID
	}
	if m.LastUnitCost > 0 {
		f["last_unit_cost"] = m.LastUnitCost
	}

	var latest time.Time
	count := 0
	for _, q := range s.Quotes {
		if q.RawMaterialID != m.ID {
			continue
		}
		count++
		if q.QuotedAt.After(latest) {
			latest = q.QuotedAt
		}
	}
	f["quote_count"] = count
	if count > 0 {
		f["latest_quote_age_days"] = math.Floor(s.TakenAt.Sub(latest).Hours() / 24)
	}
	if best, ok := s.BestQuote(m.ID); ok {
		f["best_quote_cost"] = best.UnitCost
		f["best_quote_vendor_id"] = best.VendorID
	}
	return f
}

// EmailFields 构造邮件主体的谓词字段
func (s *Snapshot) EmailFields(e Email) map[string]interface{} {
	f := map[string]interface{}{
		"id":                        e.ID,
		"from":                      e.From,
		"subject":                   e.Subject,
		"classification":            e.Classification,
		"classification_confidence": e.ClassificationConfidence,
		"replied":                   e.Replied,
	}
	if e.VendorID > 0 {
		f["vendor_id"] = e.VendorID
	}
	if !e.ReceivedAt.IsZero() {
		f["age_hours"] = s.TakenAt.Sub(e.ReceivedAt).Hours()
	}
	return f
}
