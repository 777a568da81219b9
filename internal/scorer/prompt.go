package scorer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jcheng510/coingame-sub001/internal/task"
)

const systemPrompt = `You review automation proposals for a manufacturing back office.
Given a rule match and the proposed action, judge whether a human approver should accept it.
Reply with a single JSON object:
{"reasoning": "<one or two sentences>", "confidence": <number 0-100>, "suggested_parameters": {}}
suggested_parameters may contain "quantity" (positive integer) for purchase orders and RFQs,
or "subject" and "body" (strings) for email replies. Leave it empty when the proposal is fine as is.`

// promptBuilder 按载荷类型描述拟定动作
type promptBuilder struct {
	b strings.Builder
}

// BuildPrompt 构造用户提示词
func BuildPrompt(req *Request) (string, error) {
	pb := &promptBuilder{}
	fmt.Fprintf(&pb.b, "Rule %q (%s, id %s) matched %s.\n", req.RuleName, req.RuleType, req.RuleID, req.Subject)
	pb.b.WriteString("Subject facts:\n")
	keys := make([]string, 0, len(req.Fields))
	for k := range req.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&pb.b, "- %s: %v\n", k, req.Fields[k])
	}
	pb.b.WriteString("Proposed action: ")
	if err := req.Payload.Accept(pb); err != nil {
		return "", err
	}
	return pb.b.String(), nil
}

func (pb *promptBuilder) VisitGeneratePO(p *task.GeneratePOPayload) error {
	fmt.Fprintf(&pb.b, "create a purchase order with vendor %d for %d units of material %d at %.2f each (total %s).\n",
		p.VendorID, p.Quantity, p.RawMaterialID, p.UnitCost, p.TotalAmount)
	return nil
}

func (pb *promptBuilder) VisitSendRFQ(p *task.SendRFQPayload) error {
	fmt.Fprintf(&pb.b, "send a request for quotation for %d units of material %d to vendors %v, due %s.\n",
		p.Quantity, p.RawMaterialID, p.VendorIDs, p.DueDate.Format("2006-01-02"))
	return nil
}

func (pb *promptBuilder) VisitSendEmail(p *task.SendEmailPayload) error {
	fmt.Fprintf(&pb.b, "reply to %s with subject %q and body:\n%s\n", p.To, p.Subject, p.Body)
	return nil
}

func (pb *promptBuilder) VisitReorderMaterials(p *task.ReorderMaterialsPayload) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return err
	}
	fmt.Fprintf(&pb.b, "place one reorder with vendor %d for items %s (total %s).\n", p.VendorID, items, p.TotalAmount)
	return nil
}
