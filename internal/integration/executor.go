package integration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jcheng510/coingame-sub001/internal/domain"
	"github.com/jcheng510/coingame-sub001/internal/metrics"
	"github.com/jcheng510/coingame-sub001/internal/task"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 执行步骤名
const (
	stepCreatePurchaseOrder = "create_purchase_order"
	stepMarkOnOrder         = "mark_on_order"
	stepCreateRFQ           = "create_rfq"
	stepInviteVendor        = "invite_vendor"
	stepSendEmail           = "send_email"
)

// TaskExecutor 执行已审批任务
type TaskExecutor interface {
	Execute(ctx context.Context, id string) (*task.Task, error)
}

// Executor 认领任务并调用领域服务
type Executor struct {
	store    TaskStore
	services *domain.Services
	timeout  time.Duration
	logger   *logrus.Logger
	tracer   trace.Tracer
}

// NewExecutor 创建执行器, timeout 约束每一次领域调用
func NewExecutor(store TaskStore, services *domain.Services, timeout time.Duration, logger *logrus.Logger) *Executor {
	return &Executor{
		store:    store,
		services: services,
		timeout:  timeout,
		logger:   logger,
		tracer:   otel.Tracer("task-autopilot/executor"),
	}
}

// Execute 执行任务。领域调用失败或超时使任务进入 failed 并保留部分结果,
// 只有任务不存在或状态不允许执行时返回错误。
func (e *Executor) Execute(ctx context.Context, id string) (*task.Task, error) {
	t, err := e.store.Claim(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "execute "+string(t.TaskType), trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.type", string(t.TaskType)),
	))
	defer span.End()

	log := e.logger.WithFields(logrus.Fields{"task_id": t.ID, "task_type": t.TaskType})
	log.Info("executing task")

	run := &execution{
		Executor: e,
		ctx:      ctx,
		task:     t,
		result:   t.Result.Clone(),
		log:      log,
	}
	if run.result == nil {
		run.result = &task.Result{}
	}

	start := time.Now()
	execErr := t.Payload.Accept(run)

	// 终态写入不受调用方取消影响
	final := context.WithoutCancel(ctx)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		metrics.ObserveExecution(string(t.TaskType), "failed", time.Since(start).Seconds())
		log.WithError(execErr).Warn("task execution failed")

		failed, err := e.store.Fail(final, t.ID, run.result, execErr.Error())
		if err != nil {
			return nil, fmt.Errorf("failed to record execution failure: %w", err)
		}
		return failed, nil
	}

	metrics.ObserveExecution(string(t.TaskType), "completed", time.Since(start).Seconds())
	completed, err := e.store.Complete(final, t.ID, run.result)
	if err != nil {
		return nil, fmt.Errorf("failed to record execution result: %w", err)
	}
	log.Info("task completed")
	return completed, nil
}

// execution 单次执行的上下文,按载荷类型分派
type execution struct {
	*Executor
	ctx    context.Context
	task   *task.Task
	result *task.Result
	log    *logrus.Entry
}

type callResult struct {
	ref string
	err error
}

// step 执行一个领域调用。已成功的步骤直接返回已有引用;
// 成功后先由 apply 更新结果再持久化进度。
func (x *execution) step(name, key string, call func(ctx context.Context, key string) (string, error), apply func(ref string)) (string, error) {
	if s, ok := x.result.Step(name); ok {
		x.log.WithField("step", name).Debug("step already done, skipping")
		return s.Reference, nil
	}

	ctx, cancel := context.WithTimeout(x.ctx, x.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		ref, err := call(ctx, key)
		done <- callResult{ref: ref, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err == nil && res.ref == "" {
		res.err = errors.New("domain service returned an empty reference")
	}
	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("timed out after %s: %w", x.timeout, res.err)
		}
		x.result.Record(name, "", task.StepFailed)
		return "", &utils.ExecutionError{TaskID: x.task.ID, Step: name, Err: res.err}
	}

	if apply != nil {
		apply(res.ref)
	}
	x.result.Record(name, res.ref, task.StepSucceeded)
	if err := x.store.RecordProgress(x.ctx, x.task.ID, x.result); err != nil {
		x.log.WithError(err).WithField("step", name).Warn("failed to record progress")
	}
	return res.ref, nil
}

func (x *execution) key(step string) string {
	return x.task.ID + ":" + step
}

func (x *execution) markOnOrder(materialID int64, purchaseOrderID string) error {
	name := stepMarkOnOrder + ":" + strconv.FormatInt(materialID, 10)
	_, err := x.step(name, x.key(name), func(ctx context.Context, key string) (string, error) {
		return x.services.Materials.MarkOnOrder(ctx, key, materialID, purchaseOrderID)
	}, func(string) {
		x.result.MaterialsOnOrder = append(x.result.MaterialsOnOrder, materialID)
	})
	return err
}

func (x *execution) createPurchaseOrder(po *domain.PurchaseOrder) (string, error) {
	return x.step(stepCreatePurchaseOrder, x.key(stepCreatePurchaseOrder), func(ctx context.Context, key string) (string, error) {
		return x.services.PurchaseOrders.CreatePurchaseOrder(ctx, key, po)
	}, func(ref string) {
		x.result.PurchaseOrderID = ref
	})
}

func (x *execution) VisitGeneratePO(p *task.GeneratePOPayload) error {
	poID, err := x.createPurchaseOrder(&domain.PurchaseOrder{
		VendorID:    p.VendorID,
		Lines:       []domain.POLine{{RawMaterialID: p.RawMaterialID, Quantity: p.Quantity, UnitCost: p.UnitCost}},
		TotalAmount: p.TotalAmount,
	})
	if err != nil {
		return err
	}
	return x.markOnOrder(p.RawMaterialID, poID)
}

func (x *execution) VisitSendRFQ(p *task.SendRFQPayload) error {
	rfqID, err := x.step(stepCreateRFQ, x.key(stepCreateRFQ), func(ctx context.Context, key string) (string, error) {
		return x.services.RFQs.CreateRFQ(ctx, key, &domain.RFQ{
			RawMaterialID: p.RawMaterialID,
			Quantity:      p.Quantity,
			DueDate:       p.DueDate,
			Notes:         p.Notes,
		})
	}, func(ref string) {
		x.result.RFQID = ref
	})
	if err != nil {
		return err
	}

	for _, vendorID := range p.VendorIDs {
		vendorID := vendorID
		name := stepInviteVendor + ":" + strconv.FormatInt(vendorID, 10)
		_, err := x.step(name, x.key(name), func(ctx context.Context, key string) (string, error) {
			return x.services.RFQs.InviteVendor(ctx, key, rfqID, vendorID)
		}, func(string) {
			x.result.InvitedVendorIDs = append(x.result.InvitedVendorIDs, vendorID)
			x.result.InvitationCount = len(x.result.InvitedVendorIDs)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) VisitSendEmail(p *task.SendEmailPayload) error {
	// 单步任务直接以任务 ID 作为幂等键
	_, err := x.step(stepSendEmail, x.task.ID, func(ctx context.Context, key string) (string, error) {
		return x.services.Email.SendEmail(ctx, key, &domain.EmailMessage{
			To:        p.To,
			Subject:   p.Subject,
			Body:      p.Body,
			InReplyTo: p.InReplyTo,
		})
	}, func(ref string) {
		x.result.MessageID = ref
	})
	return err
}

func (x *execution) VisitReorderMaterials(p *task.ReorderMaterialsPayload) error {
	lines := make([]domain.POLine, 0, len(p.Items))
	for _, item := range p.Items {
		lines = append(lines, domain.POLine{RawMaterialID: item.RawMaterialID, Quantity: item.Quantity, UnitCost: item.UnitCost})
	}
	poID, err := x.createPurchaseOrder(&domain.PurchaseOrder{
		VendorID:    p.VendorID,
		Lines:       lines,
		TotalAmount: p.TotalAmount,
	})
	if err != nil {
		return err
	}
	for _, id := range p.MaterialIDs() {
		if err := x.markOnOrder(id, poID); err != nil {
			return err
		}
	}
	return nil
}
