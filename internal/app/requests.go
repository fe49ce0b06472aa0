package app

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

var validate = validator.New()

// SubmitRequest is the body of a generation request.
type SubmitRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=4000"`
	ProductName    string `json:"productName" validate:"required,max=200"`
	TargetAudience string `json:"targetAudience" validate:"max=500"`
	VideoStyle     string `json:"videoStyle" validate:"max=100"`
	Duration       string `json:"duration" validate:"max=20"`
	Tone           string `json:"tone" validate:"max=100"`
}

// Validate implements validation for SubmitRequest using go-playground/validator.
func (r *SubmitRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.ProductName = strings.TrimSpace(r.ProductName)
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// Title is the display title of the job.
func (r *SubmitRequest) Title() string {
	if style := strings.TrimSpace(r.VideoStyle); style != "" {
		return r.ProductName + " - " + style
	}
	return r.ProductName
}

// Settings captures the product metadata stored on the job.
func (r *SubmitRequest) Settings() domain.JobSettings {
	return domain.JobSettings{
		ProductName:    r.ProductName,
		TargetAudience: r.TargetAudience,
		VideoStyle:     r.VideoStyle,
		Duration:       r.Duration,
		Tone:           r.Tone,
	}
}

// CheckoutRequest is the body of a checkout request.
type CheckoutRequest struct {
	PlanID  string `json:"planId" validate:"required,oneof=pro unlimited payg"`
	PriceID string `json:"priceId"`
}

// Validate implements validation for CheckoutRequest using go-playground/validator.
func (r *CheckoutRequest) Validate() error {
	r.PlanID = strings.ToLower(strings.TrimSpace(r.PlanID))
	r.PriceID = strings.TrimSpace(r.PriceID)
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
