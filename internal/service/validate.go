package service

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/naqwa/academy/internal/apperror"
)

const birthDateLayout = "2006-01-02"

var (
	validGrades    = []string{"S1", "S2", "S3"}
	validSections  = []string{"علمي رياضه", "علمي علوم", "ادبي"}
	validLangTypes = []string{"عربي", "لغات"}
	phonePrefixes  = []string{"011", "010", "012", "015"}
)

// governorates lists every Egyptian governorate in Arabic and English.
var governorates = []string{
	"القاهرة", "الجيزة", "الإسكندرية", "الدقهلية", "البحر الأحمر", "البحيرة",
	"الفيوم", "الغربية", "الإسماعيلية", "المنوفية", "المنيا", "القليوبية",
	"الوادي الجديد", "السويس", "أسوان", "أسيوط", "بني سويف", "بورسعيد",
	"دمياط", "الشرقية", "جنوب سيناء", "كفر الشيخ", "مطروح", "الأقصر",
	"قنا", "شمال سيناء", "سوهاج",
	"Cairo", "Giza", "Alexandria", "Dakahlia", "Red Sea", "Beheira",
	"Faiyum", "Gharbia", "Ismailia", "Monufia", "Minya", "Qalyubia",
	"New Valley", "Suez", "Aswan", "Asyut", "Beni Suef", "Port Said",
	"Damietta", "Sharqia", "South Sinai", "Kafr El Sheikh", "Matruh", "Luxor",
	"Qena", "North Sinai", "Sohag",
}

// NormalizePhone strips spaces and checks an Egyptian mobile number:
// 11 digits starting with 010, 011, 012 or 015.
func NormalizePhone(raw, field string) (string, error) {
	phone := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if phone == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", apperror.ValidationFailed(field, field+" must contain only digits")
		}
	}
	if len(phone) != 11 {
		return "", apperror.ValidationFailed(field, field+" must be exactly 11 digits")
	}
	for _, p := range phonePrefixes {
		if strings.HasPrefix(phone, p) {
			return phone, nil
		}
	}
	return "", apperror.ValidationFailed(field, field+" must start with 011, 010, 012, or 015")
}

// NormalizeGovernorate returns the canonical spelling from the list. English
// names match case-insensitively.
func NormalizeGovernorate(raw, field string) (string, error) {
	g := strings.TrimSpace(raw)
	if g == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	for _, valid := range governorates {
		if strings.EqualFold(g, valid) {
			return valid, nil
		}
	}
	return "", apperror.ValidationFailed(field, field+" must be a valid Egyptian governorate")
}

// NormalizeEmail trims and lower-cases an address and rejects anything
// net/mail cannot parse, including display-name forms.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "Invalid email address")
	}
	return email, nil
}

func parseBirthDate(raw string) (time.Time, error) {
	t, err := time.Parse(birthDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, apperror.ValidationFailed("birth_date", "Invalid birth_date format. Use YYYY-MM-DD format.")
	}
	return t, nil
}

// requiredFields reports every missing name in one error, in order.
type requiredFields []string

func (r *requiredFields) check(field string, ok bool) {
	if !ok {
		*r = append(*r, field)
	}
}

func (r requiredFields) err() error {
	if len(r) == 0 {
		return nil
	}
	return apperror.ValidationFailed(r[0],
		fmt.Sprintf("The following fields are required: %s", strings.Join(r, ", ")))
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

func oneOf(s string, allowed []string) bool {
	return slices.Contains(allowed, s)
}
