package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"

	"cashflow/internal/core"
)

const maxBodyBytes = 1 << 20

var (
	vOnce      sync.Once
	validate   *validator.Validate
	translator ut.Translator
)

// bindError is a client error raised while decoding or validating a body.
type bindError struct {
	message string
	fields  map[string]string
}

func (e *bindError) Error() string { return e.message }

func validatorInstance() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		translator, _ = uni.GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())

		// prefer json tag names in messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(validate, translator)

		_ = validate.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
			_, ok := core.ParseDate(fl.Field().String(), time.UTC)
			return ok
		})
		_ = validate.RegisterTranslation("isodate", translator,
			func(ut ut.Translator) error {
				return ut.Add("isodate", "{0} must be a date like 2024-03-15", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("isodate", fe.Field())
				return msg
			},
		)
	})
	return validate, translator
}

// decodeJSON decodes a single JSON value into T and validates it.
func decodeJSON[T any](r *http.Request) (T, error) {
	var dst T
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return dst, &bindError{message: "could not read request body"}
	}
	if len(body) > maxBodyBytes {
		return dst, &bindError{message: "request body too large"}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return dst, &bindError{message: "empty body"}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		return dst, &bindError{message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return dst, &bindError{message: "unexpected trailing data"}
	}

	v, trans := validatorInstance()
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return dst, &bindError{message: "validation error"}
		}
		fields := make(map[string]string, len(verrs))
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msg := fe.Translate(trans)
			ns := fe.Namespace()
			if i := strings.IndexByte(ns, '.'); i >= 0 {
				ns = ns[i+1:]
			}
			fields[ns] = msg
			msgs = append(msgs, msg)
		}
		return dst, &bindError{message: strings.Join(msgs, "; "), fields: fields}
	}
	return dst, nil
}

// amount accepts 12.5, "12.50" and "12,50" and rounds half up to cents.
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := core.ParseAmount(s)
		if err != nil {
			// Left at zero so the gt=0 rule reports it.
			*a = 0
			return nil
		}
		d = parsed
	} else {
		if err := json.Unmarshal(b, &d); err != nil {
			return err
		}
	}
	f, _ := d.Round(2).Float64()
	*a = amount(f)
	return nil
}

type expenseRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	Comments      string `json:"comments" validate:"max=1000"`
	Date          string `json:"date" validate:"required,isodate"`
	Type          string `json:"type" validate:"required,oneof=loss gain inflow outflow"`
	Amount        amount `json:"amount" validate:"gt=0"`
	Category      string `json:"category" validate:"max=100"`
	PaymentMethod string `json:"paymentMethod" validate:"max=100"`
}

func (r expenseRequest) toExpense() core.Expense {
	return core.Expense{
		Name:          strings.TrimSpace(r.Name),
		Comments:      strings.TrimSpace(r.Comments),
		Date:          strings.TrimSpace(r.Date),
		Type:          r.Type,
		Amount:        float64(r.Amount),
		Category:      strings.TrimSpace(r.Category),
		PaymentMethod: strings.TrimSpace(r.PaymentMethod),
	}
}

type bulkRequest struct {
	Expenses []expenseRequest `json:"expenses" validate:"required,min=1,max=1000,dive"`
}

func (r bulkRequest) toExpenses() []core.Expense {
	out := make([]core.Expense, len(r.Expenses))
	for i, e := range r.Expenses {
		out[i] = e.toExpense()
	}
	return out
}
