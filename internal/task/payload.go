package task

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// Payload 任务载荷,每种任务类型对应一个具体结构。
// 新增类型时必须同时扩展 PayloadVisitor,所有处理器在编译期即被要求覆盖该类型。
type Payload interface {
	TaskType() types.TaskType
	// SubjectKey 返回载荷的主体实体,用于构造去重键
	SubjectKey() string
	Validate() error
	Accept(v PayloadVisitor) error
	isPayload()
}

// PayloadVisitor 按任务类型分派的处理器
type PayloadVisitor interface {
	VisitGeneratePO(p *GeneratePOPayload) error
	VisitSendRFQ(p *SendRFQPayload) error
	VisitSendEmail(p *SendEmailPayload) error
	VisitReorderMaterials(p *ReorderMaterialsPayload) error
}

// GeneratePOPayload 生成采购单
type GeneratePOPayload struct {
	VendorID      int64   `json:"vendor_id"`
	RawMaterialID int64   `json:"raw_material_id"`
	Quantity      int64   `json:"quantity"`
	UnitCost      float64 `json:"unit_cost,omitempty"`
	TotalAmount   string  `json:"total_amount"`
}

func (p *GeneratePOPayload) TaskType() types.TaskType { return types.TaskTypeGeneratePO }
func (p *GeneratePOPayload) SubjectKey() string       { return fmt.Sprintf("material:%d", p.RawMaterialID) }
func (p *GeneratePOPayload) Accept(v PayloadVisitor) error {
	return v.VisitGeneratePO(p)
}
func (p *GeneratePOPayload) isPayload() {}

// Validate 校验采购单载荷,缺少总金额时按单价计算
func (p *GeneratePOPayload) Validate() error {
	if p.VendorID <= 0 {
		return utils.NewValidationError("payload.vendor_id", "must be positive")
	}
	if p.RawMaterialID <= 0 {
		return utils.NewValidationError("payload.raw_material_id", "must be positive")
	}
	if p.Quantity <= 0 {
		return utils.NewValidationError("payload.quantity", "must be positive")
	}
	if p.UnitCost < 0 {
		return utils.NewValidationError("payload.unit_cost", "must not be negative")
	}
	if p.TotalAmount == "" && p.UnitCost > 0 {
		p.TotalAmount = FormatAmount(float64(p.Quantity) * p.UnitCost)
	}
	return validateAmount("payload.total_amount", p.TotalAmount)
}

// SendRFQPayload 发送询价单
type SendRFQPayload struct {
	RawMaterialID int64     `json:"raw_material_id"`
	Quantity      int64     `json:"quantity"`
	VendorIDs     []int64   `json:"vendor_ids"`
	DueDate       time.Time `json:"due_date"`
	Notes         string    `json:"notes,omitempty"`
}

func (p *SendRFQPayload) TaskType() types.TaskType { return types.TaskTypeSendRFQ }
func (p *SendRFQPayload) SubjectKey() string       { return fmt.Sprintf("material:%d", p.RawMaterialID) }
func (p *SendRFQPayload) Accept(v PayloadVisitor) error {
	return v.VisitSendRFQ(p)
}
func (p *SendRFQPayload) isPayload() {}

// Validate 校验询价单载荷
func (p *SendRFQPayload) Validate() error {
	if p.RawMaterialID <= 0 {
		return utils.NewValidationError("payload.raw_material_id", "must be positive")
	}
	if p.Quantity <= 0 {
		return utils.NewValidationError("payload.quantity", "must be positive")
	}
	if len(p.VendorIDs) == 0 {
		return utils.NewValidationError("payload.vendor_ids", "at least one vendor is required")
	}
	seen := make(map[int64]bool, len(p.VendorIDs))
	for _, id := range p.VendorIDs {
		if id <= 0 {
			return utils.NewValidationError("payload.vendor_ids", "vendor id %d must be positive", id)
		}
		if seen[id] {
			return utils.NewValidationError("payload.vendor_ids", "vendor id %d is duplicated", id)
		}
		seen[id] = true
	}
	if p.DueDate.IsZero() {
		return utils.NewValidationError("payload.due_date", "is required")
	}
	return nil
}

// SendEmailPayload 发送邮件回复
type SendEmailPayload struct {
	EmailID   int64  `json:"email_id"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

func (p *SendEmailPayload) TaskType() types.TaskType { return types.TaskTypeSendEmail }
func (p *SendEmailPayload) SubjectKey() string       { return fmt.Sprintf("email:%d", p.EmailID) }
func (p *SendEmailPayload) Accept(v PayloadVisitor) error {
	return v.VisitSendEmail(p)
}
func (p *SendEmailPayload) isPayload() {}

// Validate 校验邮件载荷
func (p *SendEmailPayload) Validate() error {
	if p.EmailID <= 0 {
		return utils.NewValidationError("payload.email_id", "must be positive")
	}
	if !strings.Contains(p.To, "@") {
		return utils.NewValidationError("payload.to", "must be an email address")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return utils.NewValidationError("payload.subject", "is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return utils.NewValidationError("payload.body", "is required")
	}
	return nil
}

// ReorderItem 补货明细
type ReorderItem struct {
	RawMaterialID int64   `json:"raw_material_id"`
	Quantity      int64   `json:"quantity"`
	UnitCost      float64 `json:"unit_cost"`
}

// ReorderMaterialsPayload 按供应商批量补货
type ReorderMaterialsPayload struct {
	VendorID    int64         `json:"vendor_id"`
	Items       []ReorderItem `json:"items"`
	TotalAmount string        `json:"total_amount"`
}

func (p *ReorderMaterialsPayload) TaskType() types.TaskType { return types.TaskTypeReorderMaterials }
func (p *ReorderMaterialsPayload) SubjectKey() string       { return fmt.Sprintf("vendor:%d", p.VendorID) }
func (p *ReorderMaterialsPayload) Accept(v PayloadVisitor) error {
	return v.VisitReorderMaterials(p)
}
func (p *ReorderMaterialsPayload) isPayload() {}

// Validate 校验补货载荷,缺少总金额时按明细计算
func (p *ReorderMaterialsPayload) Validate() error {
	if p.VendorID <= 0 {
		return utils.NewValidationError("payload.vendor_id", "must be positive")
	}
	if len(p.Items) == 0 {
		return utils.NewValidationError("payload.items", "at least one item is required")
	}
	var total float64
	seen := make(map[int64]bool, len(p.Items))
	for i, item := range p.Items {
		if item.RawMaterialID <= 0 || item.Quantity <= 0 || item.UnitCost < 0 {
			return utils.NewValidationError(fmt.Sprintf("payload.items[%d]", i), "material, quantity and unit cost must be positive")
		}
		if seen[item.RawMaterialID] {
			return utils.NewValidationError(fmt.Sprintf("payload.items[%d]", i), "material %d is duplicated", item.RawMaterialID)
		}
		seen[item.RawMaterialID] = true
		total += float64(item.Quantity) * item.UnitCost
	}
	if p.TotalAmount == "" {
		p.TotalAmount = FormatAmount(total)
	}
	return validateAmount("payload.total_amount", p.TotalAmount)
}

// MaterialIDs 返回补货涉及的物料
func (p *ReorderMaterialsPayload) MaterialIDs() []int64 {
	ids := make([]int64, 0, len(p.Items))
	for _, item := range p.Items {
		ids = append(ids, item.RawMaterialID)
	}
	return ids
}

// DecodePayload 按任务类型解析载荷
func DecodePayload(taskType types.TaskType, raw []byte) (Payload, error) {
	var p Payload
	switch taskType {
	case types.TaskTypeGeneratePO:
		p = &GeneratePOPayload{}
	case types.TaskTypeSendRFQ:
		p = &SendRFQPayload{}
	case types.TaskTypeSendEmail:
		p = &SendEmailPayload{}
	case types.TaskTypeReorderMaterials:
		p = &ReorderMaterialsPayload{}
	default:
		return nil, utils.NewValidationError("task_type", "unsupported task type %q", taskType)
	}
	if len(raw) == 0 {
		return nil, utils.NewValidationError("payload", "is required")
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, utils.NewValidationError("payload", "malformed: %v", err)
	}
	return p, nil
}

// DedupKey 由任务类型和主体实体构造去重键
func DedupKey(p Payload) string {
	return string(p.TaskType()) + "|" + p.SubjectKey()
}

// FormatAmount 格式化金额为两位小数
func FormatAmount(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

func validateAmount(field, amount string) error {
	if amount == "" {
		return utils.NewValidationError(field, "is required")
	}
	v, err := strconv.ParseFloat(amount, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return utils.NewValidationError(field, "must be a decimal amount")
	}
	if v < 0 {
		return utils.NewValidationError(field, "must not be negative")
	}
	return nil
}
