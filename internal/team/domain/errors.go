package domain

import "errors"

var (
	ErrInvalidExternalRef    = errors.New("invalid_external_ref")
	ErrInvalidTeamName       = errors.New("invalid_team_name")
	ErrTeamNotFound          = errors.New("team_not_found")
	ErrUserNotFound          = errors.New("user_not_found")
	ErrPersonalTeamNotFound  = errors.New("personal_team_not_found")
	ErrBillingEntityNotFound = errors.New("billing_entity_not_found")
	ErrMemberUserNotFound    = errors.New("member_user_not_found")
)
