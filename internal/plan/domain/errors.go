package domain

import "errors"

var (
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrInvalidPlanCode = errors.New("invalid_plan_code")
)
