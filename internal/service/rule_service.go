package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/model"
	"github.com/jcheng510/coingame-sub001/internal/repository"
	"github.com/jcheng510/coingame-sub001/internal/rules"
	"github.com/jcheng510/coingame-sub001/internal/types"
	"github.com/jcheng510/coingame-sub001/internal/utils"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// RuleService 规则服务接口
type RuleService interface {
	Create(ctx context.Context, rule *rules.Rule, actor string) (*rules.Rule, error)
	Get(ctx context.Context, id string) (*rules.Rule, error)
	// List 列出规则, includeInactive 为 false 时只返回启用的规则
	List(ctx context.Context, includeInactive bool) ([]*rules.Rule, error)
	SetActive(ctx context.Context, id string, active bool, actor string) (*rules.Rule, error)
	// Import 从 YAML 导入规则, 已存在的规则跳过
	Import(ctx context.Context, data []byte, actor string) (*ImportReport, error)
}

// ImportReport 规则导入结果
type ImportReport struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// ruleFile 规则导入文件格式
type ruleFile struct {
	Rules []*rules.Rule `yaml:"rules"`
}

type ruleService struct {
	db  *gorm.DB
	log audit.Log
}

// NewRuleService 创建规则服务
func NewRuleService(db *gorm.DB, log audit.Log) RuleService {
	return &ruleService{db: db, log: log}
}

// Create 创建规则, 与 rule_created 日志在同一事务中提交
func (s *ruleService) Create(ctx context.Context, rule *rules.Rule, actor string) (*rules.Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	m, err := rule.ToModel()
	if err != nil {
		return nil, err
	}

	entry := &audit.Entry{
		RuleID:  &rule.ID,
		Action:  types.ActionRuleCreated,
		Status:  types.LogStatusSuccess,
		Actor:   actorOrSystem(actor),
		Message: fmt.Sprintf("rule %s created (%s -> %s)", rule.ID, rule.RuleType, rule.ActionType),
		Details: map[string]interface{}{
			"rule_type":   string(rule.RuleType),
			"action_type": string(rule.ActionType),
			"is_active":   rule.IsActive,
		},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewRuleRepository(tx)
		if _, err := repo.FindByID(ctx, rule.ID); err == nil {
			return utils.NewValidationError("id", "rule %s already exists", rule.ID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check rule: %w", err)
		}
		if err := repo.Create(ctx, m); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return utils.NewValidationError("id", "rule %s already exists", rule.ID)
			}
			return fmt.Errorf("failed to create rule: %w", err)
		}
		return s.log.Append(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.log.Publish(entry)

	created, err := rules.FromModel(m)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get 获取规则
func (s *ruleService) Get(ctx context.Context, id string) (*rules.Rule, error) {
	m, err := repository.NewRuleRepository(s.db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &utils.NotFoundError{Resource: "rule", ID: id}
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rules.FromModel(m)
}

// List 列出规则
func (s *ruleService) List(ctx context.Context, includeInactive bool) ([]*rules.Rule, error) {
	repo := repository.NewRuleRepository(s.db)
	var (
		models []*model.RuleModel
		err    error
	)
	if includeInactive {
		models, err = repo.FindAll(ctx)
	} else {
		models, err = repo.FindActive(ctx, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	out := make([]*rules.Rule, 0, len(models))
	for _, m := range models {
		r, err := rules.FromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// SetActive 启用或停用规则, 已停用的规则不再参与评估
func (s *ruleService) SetActive(ctx context.Context, id string, active bool, actor string) (*rules.Rule, error) {
	action := types.ActionRuleDeactivated
	verb := "deactivated"
	if active {
		action = types.ActionRuleActivated
		verb = "activated"
	}
	entry := &audit.Entry{
		RuleID:  &id,
		Action:  action,
		Status:  types.LogStatusSuccess,
		Actor:   actorOrSystem(actor),
		Message: fmt.Sprintf("rule %s %s", id, verb),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewRuleRepository(tx).SetActive(ctx, id, active); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &utils.NotFoundError{Resource: "rule", ID: id}
			}
			return fmt.Errorf("failed to update rule: %w", err)
		}
		return s.log.Append(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.log.Publish(entry)
	return s.Get(ctx, id)
}

// Import 导入规则。文件中任一规则非法时不导入任何规则。
func (s *ruleService) Import(ctx context.Context, data []byte, actor string) (*ImportReport, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, utils.NewValidationError("rules", "malformed rule file: %v", err)
	}
	if len(file.Rules) == 0 {
		return nil, utils.NewValidationError("rules", "no rules found")
	}

	seen := make(map[string]bool, len(file.Rules))
	for i, r := range file.Rules {
		if r == nil {
			return nil, utils.NewValidationError(fmt.Sprintf("rules[%d]", i), "is empty")
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d] (%s): %w", i, r.ID, err)
		}
		if seen[r.ID] {
			return nil, utils.NewValidationError(fmt.Sprintf("rules[%d]", i), "rule %s is duplicated", r.ID)
		}
		seen[r.ID] = true
	}

	repo := repository.NewRuleRepository(s.db)
	report := &ImportReport{Created: []string{}, Skipped: []string{}}
	for _, r := range file.Rules {
		if _, err := repo.FindByID(ctx, r.ID); err == nil {
			report.Skipped = append(report.Skipped, r.ID)
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return report, fmt.Errorf("failed to check rule: %w", err)
		}
		if _, err := s.Create(ctx, r, actor); err != nil {
			return report, err
		}
		report.Created = append(report.Created, r.ID)
	}
	return report, nil
}

func actorOrSystem(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return types.ActorSystem
}
