package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naqwa/academy/internal/apperror"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"01012345678", "01012345678", false},
		{" 011 1234 5678 ", "01112345678", false},
		{"01212345678", "01212345678", false},
		{"01512345678", "01512345678", false},
		{"01412345678", "", true},
		{"0101234567", "", true},
		{"010123456789", "", true},
		{"+2010123456", "", true},
		{"٠١٠١٢٣٤٥٦٧٨", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in, "phone_number")
			if tt.wantErr {
				require.ErrorIs(t, err, apperror.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeGovernorate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"القاهرة", "القاهرة"},
		{"  الجيزة ", "الجيزة"},
		{"cairo", "Cairo"},
		{"KAFR EL SHEIKH", "Kafr El Sheikh"},
		{"port said", "Port Said"},
	}
	for _, tt := range tests {
		got, err := NormalizeGovernorate(tt.in, "governorate")
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := NormalizeGovernorate("Gotham", "governorate")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = NormalizeGovernorate("  ", "governorate")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Student@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", got)

	for _, bad := range []string{"", "plain", "a@", "Name <a@example.com>", "a@example.com, b@example.com"} {
		_, err := NormalizeEmail(bad)
		assert.ErrorIs(t, err, apperror.ErrValidation, bad)
	}
}

func TestRequiredFields(t *testing.T) {
	var r requiredFields
	assert.NoError(t, r.err())

	r.check("a", true)
	r.check("b", false)
	r.check("c", false)
	err := r.err()
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, "The following fields are required: b, c", err.Error())
	assert.Equal(t, "b", errField(err))
}
