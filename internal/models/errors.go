package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrInvalidState          = errors.New("invalid state")
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrTimeout               = errors.New("timeout")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrDuplicateCertificate  = errors.New("duplicate certificate number")

	ErrAccountNotFound    = fmt.Errorf("account %w", ErrNotFound)
	ErrLotNotFound        = fmt.Errorf("lot %w", ErrNotFound)
	ErrRetirementNotFound = fmt.Errorf("retirement %w", ErrNotFound)
)
