// Package chartimport reads attendance sheets from JSON and validates them
// before they are loaded into the chart collection.
package chartimport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/dalemusser/rollchart/internal/domain/models"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Problem is one validation failure of one record.
type Problem struct {
	Index   int    // position of the record in the input
	Field   string // e.g. "period" or "list[2].name"
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("record %d: %s: %s", p.Index, p.Field, p.Message)
}

// Validator checks chart records and reports problems in English, naming
// fields by their JSON names.
type Validator struct {
	v     *govalidator.Validate
	trans ut.Translator
}

// NewValidator builds a Validator with English messages.
func NewValidator() (*Validator, error) {
	v := govalidator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, fmt.Errorf("register validator translations: %w", err)
	}
	return &Validator{v: v, trans: trans}, nil
}

// Validate checks every record and returns the problems found, in input order.
func (val *Validator) Validate(recs []models.ChartRecord) []Problem {
	var problems []Problem
	for i, rec := range recs {
		err := val.v.Struct(rec)
		if err == nil {
			continue
		}
		var ve govalidator.ValidationErrors
		if !errors.As(err, &ve) {
			problems = append(problems, Problem{Index: i, Field: "-", Message: err.Error()})
			continue
		}
		for _, fe := range ve {
			problems = append(problems, Problem{
				Index:   i,
				Field:   fieldPath(fe.Namespace()),
				Message: fe.Translate(val.trans),
			})
		}
	}
	return problems
}

// fieldPath drops the leading struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// Decode reads a JSON array of chart records. Unknown fields are rejected so
// typos in hand-written seed files surface early.
func Decode(r io.Reader) ([]models.ChartRecord, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var recs []models.ChartRecord
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode chart records: %w", err)
	}
	for i := range recs {
		recs[i].Class = strings.TrimSpace(recs[i].Class)
		recs[i].Date = strings.TrimSpace(recs[i].Date)
		recs[i].Period = strings.TrimSpace(recs[i].Period)
	}
	return recs, nil
}

// Classes returns the distinct classes in recs, first occurrence first.
func Classes(recs []models.ChartRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range recs {
		if !seen[rec.Class] {
			seen[rec.Class] = true
			out = append(out, rec.Class)
		}
	}
	return out
}
