package core

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name string
		row  RawRow
		want []string
	}{
		{
			name: "valid full row",
			row:  RawRow{strPtr("Acme Corp"), strPtr("contact@acme.com"), strPtr("1234567890")},
			want: nil,
		},
		{
			name: "optional fields empty",
			row:  RawRow{strPtr("Acme Corp"), strPtr(""), strPtr("")},
			want: nil,
		},
		{
			name: "optional fields absent",
			row:  RawRow{CompanyName: strPtr("Acme Corp")},
			want: nil,
		},
		{
			name: "empty name",
			row:  RawRow{strPtr(""), strPtr("a@b.co"), nil},
			want: []string{"The company name field is required."},
		},
		{
			name: "absent name",
			row:  RawRow{Email: strPtr("a@b.co")},
			want: []string{"The company name field is required."},
		},
		{
			name: "name too long",
			row:  RawRow{CompanyName: strPtr(strings.Repeat("a", 101))},
			want: []string{"The company name field must not be greater than 100 characters."},
		},
		{
			name: "name of 100 multibyte characters",
			row:  RawRow{CompanyName: strPtr(strings.Repeat("é", 100))},
			want: nil,
		},
		{
			name: "invalid email",
			row:  RawRow{strPtr("Acme"), strPtr("not-an-email"), nil},
			want: []string{"The email field must be a valid email address."},
		},
		{
			name: "phone too long",
			row:  RawRow{strPtr("Acme"), nil, strPtr("1234567890123456")},
			want: []string{"The phone number field must not be greater than 15 characters."},
		},
		{
			name: "messages in column order",
			row:  RawRow{strPtr(""), strPtr("bad"), strPtr("1234567890123456")},
			want: []string{
				"The company name field is required.",
				"The email field must be a valid email address.",
				"The phone number field must not be greater than 15 characters.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.row, 7)
			if got.Row != 7 {
				t.Errorf("Row = %d, want 7", got.Row)
			}
			if got.Valid() != (len(tt.want) == 0) {
				t.Errorf("Valid() = %v, want %v", got.Valid(), len(tt.want) == 0)
			}
			if !reflect.DeepEqual(got.Messages, tt.want) {
				t.Errorf("Messages = %q, want %q", got.Messages, tt.want)
			}
		})
	}
}
