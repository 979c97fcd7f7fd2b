package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"omniavatar/server/internal/catalog"
	"omniavatar/server/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validatorsOnce sync.Once

// registerValidators adds the domain tags used in binding rules:
// tier, cycle and quality.
func registerValidators(cat *catalog.Catalog) {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
			return model.SubscriptionTier(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("cycle", func(fl validator.FieldLevel) bool {
			return model.BillingCycle(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("quality", func(fl validator.FieldLevel) bool {
			_, ok := cat.Quality(fl.Field().String())
			return ok
		})
	})
}

// bindMessage turns a binding failure into a message fit for clients.
func bindMessage(err error, fallback string) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fallback
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "A valid email address is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "tier":
		return fmt.Sprintf("Unknown plan %q", fe.Value())
	case "cycle":
		return "Billing cycle must be monthly or yearly"
	case "quality":
		return fmt.Sprintf("Unknown video quality %q", fe.Value())
	}
	return fallback
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
