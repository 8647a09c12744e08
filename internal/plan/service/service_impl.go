package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),
	}
}

func (s *Service) CreatePlan(ctx context.Context, input plandomain.CreatePlanInput) (*plandomain.Plan, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, plandomain.ErrInvalidPlanCode
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = code
	}

	plan := plandomain.Plan{
		ID:    uuid.NewString(),
		AppID: input.AppID,
		Code:  code,
		Name:  name,
	}
	for _, pm := range input.ProductMaps {
		plan.ProductMaps = append(plan.ProductMaps, plandomain.StripeProductMap{
			ID:              uuid.NewString(),
			PlanID:          plan.ID,
			Kind:            pm.Kind,
			StripeProductID: pm.StripeProductID,
			StripePriceID:   pm.StripePriceID,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("ProductMaps").Create(&plan).Error; err != nil {
			return err
		}
		for i := range plan.ProductMaps {
			if err := tx.Create(&plan.ProductMaps[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan created", zap.String("app_id", input.AppID), zap.String("code", code))
	return &plan, nil
}

func (s *Service) GetPlanByCode(ctx context.Context, appID, code string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := s.db.WithContext(ctx).
		Preload("ProductMaps").
		Where("app_id = ? AND code = ?", appID, strings.TrimSpace(code)).
		First(&plan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (s *Service) GetPlanByID(ctx context.Context, id string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := s.db.WithContext(ctx).
		Preload("ProductMaps").
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}
