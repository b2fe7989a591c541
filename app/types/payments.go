package types

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Provider signature headers, checked in order.
var signatureHeaders = []string{
	"Stripe-Signature",
	"Crypto-Pay-Api-Signature",
	"X-Provider-Signature",
}

func NewCreatePaymentRequestFromContext(ctx echo.Context) (*CreatePaymentRequest, error) {
	var body CreatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestId = strings.TrimSpace(body.RequestId)
	if body.RequestId == "" {
		body.RequestId = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	body.Normalize()
	if body.CustomerIp == "" {
		body.CustomerIp = ctx.RealIP()
	}
	if body.CustomerUserAgent == "" {
		body.CustomerUserAgent = strings.TrimSpace(ctx.Request().UserAgent())
	}

	return &body, nil
}

// Normalize trims every field and brings card and currency values into canonical form.
func (r *CreatePaymentRequest) Normalize() {
	r.OrderId = strings.TrimSpace(r.OrderId)
	r.Gateway = strings.ToLower(strings.TrimSpace(r.Gateway))
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Description = strings.TrimSpace(r.Description)
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.CustomerEmail = strings.TrimSpace(r.CustomerEmail)
	r.CustomerIp = strings.TrimSpace(r.CustomerIp)
	r.CustomerUserAgent = strings.TrimSpace(r.CustomerUserAgent)
	r.CustomerCountry = strings.ToUpper(strings.TrimSpace(r.CustomerCountry))
	r.SuccessUrl = strings.TrimSpace(r.SuccessUrl)
	r.FailUrl = strings.TrimSpace(r.FailUrl)
	if r.Card != nil {
		r.Card.Number = strings.ReplaceAll(strings.TrimSpace(r.Card.Number), " ", "")
		r.Card.ExpMonth = strings.TrimSpace(r.Card.ExpMonth)
		if len(r.Card.ExpMonth) == 1 {
			r.Card.ExpMonth = "0" + r.Card.ExpMonth
		}
		r.Card.ExpYear = strings.TrimSpace(r.Card.ExpYear)
		if len(r.Card.ExpYear) == 2 {
			r.Card.ExpYear = "20" + r.Card.ExpYear
		}
		r.Card.CVV = strings.TrimSpace(r.Card.CVV)
		r.Card.Holder = strings.TrimSpace(r.Card.Holder)
	}
}

func (r *CreatePaymentRequest) Validate() error {
	if strings.TrimSpace(r.RequestId) == "" {
		return errors.New("request_id is required")
	}
	if err := validate.Struct(r); err != nil {
		return describeValidationError(err)
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be > 0")
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return errors.New("amount must have at most 2 decimal places")
	}
	if r.Card != nil {
		month, _ := strconv.Atoi(r.Card.ExpMonth)
		if month < 1 || month > 12 {
			return errors.New("card exp_month must be between 01 and 12")
		}
	}
	return nil
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{Id: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewAdministrativeTransitionRequestFromContext(ctx echo.Context) (*AdministrativeTransitionRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body AdministrativeTransitionRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)
	body.Actor = strings.TrimSpace(ctx.Request().Header.Get("X-Actor"))
	if body.Actor == "" {
		body.Actor = "admin"
	}

	return &body, nil
}

func (r *AdministrativeTransitionRequest) Validate() error {
	if r.Id == 0 {
		return errors.New("invalid payment id")
	}
	if err := validate.Struct(r); err != nil {
		return describeValidationError(err)
	}
	return nil
}

func NewHandleProviderEventRequestFromContext(ctx echo.Context) (*HandleProviderEventRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	req := &HandleProviderEventRequest{
		RequestId: strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)),
		Provider:  strings.ToLower(strings.TrimSpace(ctx.Param("provider"))),
		Payload:   rawBody,
	}
	for _, header := range signatureHeaders {
		if signature := strings.TrimSpace(ctx.Request().Header.Get(header)); signature != "" {
			req.Signature = signature
			break
		}
	}

	return req, nil
}

func (r *HandleProviderEventRequest) Validate() error {
	if strings.TrimSpace(r.Provider) == "" {
		return errors.New("provider is required")
	}
	if len(strings.TrimSpace(string(r.Payload))) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func describeValidationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err
	}

	first := fieldErrors[0]
	field := jsonFieldName(first.Namespace())
	switch first.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "len":
		return fmt.Errorf("%s must be %s characters", field, first.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

var jsonFieldNames = map[string]string{
	"ShopId":            "shop_id",
	"OrderId":           "order_id",
	"Gateway":           "gateway",
	"PaymentMethod":     "payment_method",
	"Currency":          "currency",
	"Description":       "description",
	"Card":              "card",
	"Number":            "number",
	"ExpMonth":          "exp_month",
	"ExpYear":           "exp_year",
	"CVV":               "cvv",
	"Holder":            "holder",
	"CustomerName":      "customer_name",
	"CustomerEmail":     "customer_email",
	"CustomerIp":        "customer_ip",
	"CustomerUserAgent": "customer_user_agent",
	"CustomerCountry":   "customer_country",
	"SuccessUrl":        "success_url",
	"FailUrl":           "fail_url",
	"Id":                "id",
	"Reason":            "reason",
}

// jsonFieldName turns "CreatePaymentRequest.Card.Number" into "card.number".
func jsonFieldName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		if name, ok := jsonFieldNames[part]; ok {
			parts[i] = name
		}
	}
	return strings.Join(parts, ".")
}
