package usecase

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	domain "github.com/aq2208/garden-checkout/internal/entity"
	"github.com/go-playground/validator/v10"
)

type contactFields struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,max=254,email"`
	Phone string `json:"phone" validate:"required"`
}

type addressFields struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
	Country string `json:"country" validate:"required"`
}

type cardFields struct {
	Number   string `json:"number" validate:"required,numeric,min=12,max=19"`
	ExpMonth int    `json:"expMonth" validate:"required,min=1,max=12"`
	ExpYear  int    `json:"expYear" validate:"required,min=2000,max=2200"`
	CVC      string `json:"cvc" validate:"required,numeric,min=3,max=4"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (uc *Checkout) validateInput(in CheckoutInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidCart, i)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidCart, i)
		}
		if uc.cfg.MaxQuantity > 0 && it.Quantity > uc.cfg.MaxQuantity {
			return fmt.Errorf("%w: item %d quantity must be at most %d", ErrInvalidCart, i, uc.cfg.MaxQuantity)
		}
	}
	if !in.FulfillmentMethod.Valid() {
		return fmt.Errorf("%w: unknown fulfillment method %q", ErrInvalidCart, in.FulfillmentMethod)
	}
	if err := uc.validateCustomer(in.Customer, in.FulfillmentMethod); err != nil {
		return err
	}
	return uc.validatePayment(in.PaymentMethod, in.FulfillmentMethod)
}

func (uc *Checkout) validateCustomer(c domain.CustomerInfo, method domain.FulfillmentMethod) error {
	contact := contactFields{
		Name:  strings.TrimSpace(c.Name),
		Email: domain.NormalizeEmail(c.Email),
		Phone: strings.TrimSpace(c.Phone),
	}
	if err := uc.validate.Struct(contact); err != nil {
		return fieldErr("customerInfo.", err)
	}
	if method != domain.FulfillmentDelivery {
		return nil
	}
	a := c.Address
	addr := addressFields{
		Street:  strings.TrimSpace(a.Street),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		Zip:     strings.TrimSpace(a.Zip),
		Country: strings.TrimSpace(a.Country),
	}
	if err := uc.validate.Struct(addr); err != nil {
		return fieldErr("customerInfo.address.", err)
	}
	return nil
}

func (uc *Checkout) validatePayment(pm domain.PaymentMethod, method domain.FulfillmentMethod) error {
	switch pm.Kind {
	case domain.PaymentKindCash:
		if method != domain.FulfillmentPickup {
			return fmt.Errorf("%w: cash is only accepted for pickup", ErrInvalidPaymentMethod)
		}
		return nil
	case domain.PaymentKindGateway:
		if pm.Token != "" {
			return nil
		}
		if pm.Card == nil {
			return fmt.Errorf("%w: card token or card details required", ErrInvalidPaymentMethod)
		}
		card := cardFields{
			Number:   strings.ReplaceAll(strings.ReplaceAll(pm.Card.Number, " ", ""), "-", ""),
			ExpMonth: pm.Card.ExpMonth,
			ExpYear:  pm.Card.ExpYear,
			CVC:      strings.TrimSpace(pm.Card.CVC),
		}
		if err := uc.validate.Struct(card); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fmt.Errorf("%w: card %s is invalid", ErrInvalidPaymentMethod, verrs[0].Field())
			}
			return fmt.Errorf("%w: %v", ErrInvalidPaymentMethod, err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidPaymentMethod, pm.Kind)
}

// fieldErr turns the first validator failure into a *FieldError.
func fieldErr(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidCustomer, err)
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return &FieldError{Field: prefix + fe.Field(), Err: ErrMissingCustomerField}
	}
	return &FieldError{Field: prefix + fe.Field(), Err: ErrInvalidCustomer}
}
