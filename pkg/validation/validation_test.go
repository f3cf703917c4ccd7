package validation

import "testing"

func TestValidateSessionName(t *testing.T) {
	valid := []string{"alpha", "alpha-1", "work_phone", "A", "session01"}
	for _, name := range valid {
		if err := ValidateSessionName(name); err != nil {
			t.Errorf("ValidateSessionName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "   ", "-leading", "_leading", "has space", "emoji😀", "a/b", string(make([]byte, 70))}
	for _, name := range invalid {
		if err := ValidateSessionName(name); err == nil {
			t.Errorf("ValidateSessionName(%q) = nil, want error", name)
		}
	}
}

func TestValidatePhone(t *testing.T) {
	valid := []string{"6281234567890", "+6281234567890", "123456"}
	for _, phone := range valid {
		if err := ValidatePhone(phone); err != nil {
			t.Errorf("ValidatePhone(%q) = %v, want nil", phone, err)
		}
	}

	invalid := []string{"", "0812345678", "+0812345678", "12345", "62-812", "abc12345"}
	for _, phone := range invalid {
		if err := ValidatePhone(phone); err == nil {
			t.Errorf("ValidatePhone(%q) = nil, want error", phone)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("hello"); err != nil {
		t.Errorf("ValidateMessage = %v, want nil", err)
	}
	if err := ValidateMessage("  \n "); err == nil {
		t.Error("ValidateMessage accepted blank message")
	}
}
