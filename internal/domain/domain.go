package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error 领域服务返回的错误
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// POLine 采购单明细
type POLine struct {
	RawMaterialID int64   `json:"raw_material_id"`
	Quantity      int64   `json:"quantity"`
	UnitCost      float64 `json:"unit_cost"`
}

// PurchaseOrder 采购单
type PurchaseOrder struct {
	VendorID    int64    `json:"vendor_id"`
	Lines       []POLine `json:"lines"`
	TotalAmount string   `json:"total_amount"`
	Notes       string   `json:"notes,omitempty"`
}

// RFQ 询价单
type RFQ struct {
	RawMaterialID int64     `json:"raw_material_id"`
	Quantity      int64     `json:"quantity"`
	DueDate       time.Time `json:"due_date"`
	Notes         string    `json:"notes,omitempty"`
}

// EmailMessage 外发邮件
type EmailMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// PurchaseOrders 采购单服务
type PurchaseOrders interface {
	CreatePurchaseOrder(ctx context.Context, idempotencyKey string, po *PurchaseOrder) (string, error)
}

// RFQs 询价服务
type RFQs interface {
	CreateRFQ(ctx context.Context, idempotencyKey string, rfq *RFQ) (string, error)
	InviteVendor(ctx context.Context, idempotencyKey string, rfqID string, vendorID int64) (string, error)
}

// Email 邮件服务
type Email interface {
	SendEmail(ctx context.Context, idempotencyKey string, msg *EmailMessage) (string, error)
}

// Materials 物料服务
type Materials interface {
	MarkOnOrder(ctx context.Context, idempotencyKey string, materialID int64, purchaseOrderID string) (string, error)
}

// Services 执行器依赖的全部领域服务
type Services struct {
	PurchaseOrders PurchaseOrders
	RFQs           RFQs
	Email          Email
	Materials      Materials
}

// Client 同时实现全部领域服务
type Client interface {
	PurchaseOrders
	RFQs
	Email
	Materials
}

// NewServices 以同一个客户端提供全部领域服务
func NewServices(c Client) *Services {
	return &Services{PurchaseOrders: c, RFQs: c, Email: c, Materials: c}
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*DryRun)(nil)
)
