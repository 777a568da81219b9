package domain

import (
	"context"
	"fmt"
	"sync"
)

// Call 记录一次领域调用
type Call struct {
	Method string
	Key    string
	Ref    string
}

// DryRun 内存实现,同一幂等键只产生一次副作用
type DryRun struct {
	mu    sync.Mutex
	seq   int
	refs  map[string]string
	calls []Call
}

// NewDryRun 创建 DryRun 领域服务
func NewDryRun() *DryRun {
	return &DryRun{refs: map[string]string{}}
}

// CreatePurchaseOrder 创建采购单
func (d *DryRun) CreatePurchaseOrder(ctx context.Context, key string, po *PurchaseOrder) (string, error) {
	return d.record(ctx, "CreatePurchaseOrder", key, "PO")
}

// CreateRFQ 创建询价单
func (d *DryRun) CreateRFQ(ctx context.Context, key string, rfq *RFQ) (string, error) {
	return d.record(ctx, "CreateRFQ", key, "RFQ")
}

// InviteVendor 邀请供应商
func (d *DryRun) InviteVendor(ctx context.Context, key string, rfqID string, vendorID int64) (string, error) {
	return d.record(ctx, "InviteVendor", key, "INV")
}

// SendEmail 发送邮件
func (d *DryRun) SendEmail(ctx context.Context, key string, msg *EmailMessage) (string, error) {
	return d.record(ctx, "SendEmail", key, "MSG")
}

// MarkOnOrder 标记物料已下单
func (d *DryRun) MarkOnOrder(ctx context.Context, key string, materialID int64, purchaseOrderID string) (string, error) {
	return d.record(ctx, "MarkOnOrder", key, "MAT")
}

// Calls 返回产生副作用的调用
func (d *DryRun) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func (d *DryRun) record(ctx context.Context, method, key, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if ref, ok := d.refs[method+"|"+key]; ok {
		return ref, nil
	}
	d.seq++
	ref := fmt.Sprintf("%s-DRY-%04d", prefix, d.seq)
	d.refs[method+"|"+key] = ref
	d.calls = append(d.calls, Call{Method: method, Key: key, Ref: ref})
	return ref, nil
}
