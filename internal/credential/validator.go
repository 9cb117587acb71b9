// Package credential はログイン・登録フォームの入力検証を提供する。
// 検証は純粋関数で、ネットワークや永続化には触れない。
package credential

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/tenantdesk/internal/model"
)

// passwordSymbols はパスワードに1文字以上含める記号。
const passwordSymbols = "@$!%*?&"

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	passwordCharset = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,20}$`)
)

// Result はメールアドレスとパスワードの検証結果。
type Result struct {
	EmailValid    bool
	PasswordValid bool
}

// CanSubmit は両方が有効な場合にのみtrueを返す。
func (r Result) CanSubmit() bool {
	return r.EmailValid && r.PasswordValid
}

type loginForm struct {
	Email    string `validate:"loginemail"`
	Password string `validate:"strongpassword"`
}

type registerForm struct {
	Name     string `validate:"displayname"`
	Email    string `validate:"loginemail"`
	Password string `validate:"strongpassword"`
}

// Validator はフォーム入力を検証する。ゴルーチンセーフ。
type Validator struct {
	validate *validator.Validate
}

// NewValidator はカスタムタグを登録したValidatorを生成する。
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 組み込みタグと同名にならない名前で登録する
	mustRegister(v, "loginemail", func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	})
	mustRegister(v, "strongpassword", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	})
	mustRegister(v, "displayname", func(fl validator.FieldLevel) bool {
		return IsName(fl.Field().String())
	})
	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("credential: failed to register " + tag + ": " + err.Error())
	}
}

// Check はメールアドレスとパスワードの有効性をそれぞれ返す。
func (v *Validator) Check(email, password string) Result {
	res := Result{EmailValid: true, PasswordValid: true}

	err := v.validate.Struct(loginForm{Email: email, Password: password})
	if err == nil {
		return res
	}
	for _, fe := range fieldErrors(err) {
		switch fe.Field() {
		case "Email":
			res.EmailValid = false
		case "Password":
			res.PasswordValid = false
		}
	}
	return res
}

// ValidateLogin はログインフォームを検証し、最初の不備をAPIErrorで返す。
func (v *Validator) ValidateLogin(email, password string) error {
	return toAPIError(v.validate.Struct(loginForm{Email: email, Password: password}))
}

// ValidateRegistration は登録フォームを検証し、最初の不備をAPIErrorで返す。
func (v *Validator) ValidateRegistration(name, email, password string) error {
	return toAPIError(v.validate.Struct(registerForm{Name: name, Email: email, Password: password}))
}

func fieldErrors(err error) validator.ValidationErrors {
	if ve, ok := err.(validator.ValidationErrors); ok {
		return ve
	}
	return nil
}

// toAPIError はフィールド順で最初のエラーをAPIErrorに変換する。
func toAPIError(err error) error {
	if err == nil {
		return nil
	}
	ve := fieldErrors(err)
	if len(ve) == 0 {
		return err
	}
	switch ve[0].Field() {
	case "Name":
		return model.NewInvalidNameError()
	case "Email":
		return model.NewInvalidEmailError()
	default:
		return model.NewInvalidPasswordError()
	}
}

// IsEmail はメールアドレスの形式を判定する。
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// IsStrongPassword は8〜20文字で、英大文字・英小文字・数字・記号をそれぞれ含むかを判定する。
// RE2は先読みを持たないため、文字種の条件は個別に確認する。
func IsStrongPassword(s string) bool {
	if !passwordCharset.MatchString(s) {
		return false
	}

	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// IsName は名前が2文字以上かを判定する。
func IsName(s string) bool {
	return utf8.RuneCountInString(s) > 1
}
