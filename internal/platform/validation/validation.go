// Package validation registers the custom binding tags used by request DTOs.
package validation

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// 蔵書番号: 英数字とハイフン、1〜32文字
var accessionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,31}$`)

// 学籍番号: 英数字とハイフン
var studentNoPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{2,31}$`)

func ValidAccession(s string) bool { return accessionPattern.MatchString(s) }
func ValidStudentNo(s string) bool { return studentNoPattern.MatchString(s) }

// Register adds "accession" and "student_no" tags to v.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("accession", func(fl validator.FieldLevel) bool {
		return ValidAccession(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("student_no", func(fl validator.FieldLevel) bool {
		return ValidStudentNo(fl.Field().String())
	})
}

// RegisterGin registers the tags on gin's default validator engine.
func RegisterGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return Register(v)
}
