// Waypost - Real-Time Visitor Presence and Ephemeral Messaging
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypost

package validation

import (
	"strings"
	"testing"
)

type coordPayload struct {
	Lat float64 `validate:"latitude"`
	Lng float64 `validate:"longitude"`
}

type nicknamePayload struct {
	Nickname string `validate:"required,max=32"`
}

func TestValidateStruct_ValidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lng  float64
	}{
		{"adirondacks", 44.1, -73.9},
		{"origin", 0, 0},
		{"extremes", 90, 180},
		{"negative extremes", -90, -180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verr := ValidateStruct(&coordPayload{Lat: tt.lat, Lng: tt.lng}); verr != nil {
				t.Errorf("expected valid coordinates, got %v", verr)
			}
		})
	}
}

func TestValidateStruct_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name      string
		lat       float64
		lng       float64
		wantField string
	}{
		{"latitude too high", 90.01, 0, "Lat"},
		{"latitude too low", -91, 0, "Lat"},
		{"longitude too high", 0, 180.5, "Lng"},
		{"longitude too low", 0, -181, "Lng"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&coordPayload{Lat: tt.lat, Lng: tt.lng})
			if verr == nil {
				t.Fatal("expected validation error, got nil")
			}
			if got := verr.Errors()[0].Field(); got != tt.wantField {
				t.Errorf("failed field = %q, want %q", got, tt.wantField)
			}
		})
	}
}

func TestValidateStruct_NicknameBounds(t *testing.T) {
	if verr := ValidateStruct(&nicknamePayload{Nickname: "Ray"}); verr != nil {
		t.Errorf("short nickname rejected: %v", verr)
	}

	long := strings.Repeat("x", 33)
	verr := ValidateStruct(&nicknamePayload{Nickname: long})
	if verr == nil {
		t.Fatal("expected over-length nickname to fail")
	}
	if verr.Errors()[0].Tag() != "max" {
		t.Errorf("tag = %q, want max", verr.Errors()[0].Tag())
	}
}

func TestToAPIError_SingleField(t *testing.T) {
	verr := ValidateStruct(&coordPayload{Lat: 120, Lng: 0})
	if verr == nil {
		t.Fatal("expected validation error")
	}

	apiErr := verr.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "latitude") {
		t.Errorf("message should mention latitude, got %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "Lat" {
		t.Errorf("details field = %v, want Lat", apiErr.Details["field"])
	}
}

func TestToAPIError_MultipleFields(t *testing.T) {
	verr := ValidateStruct(&coordPayload{Lat: 120, Lng: 200})
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if len(verr.Errors()) != 2 {
		t.Fatalf("expected 2 field errors, got %d", len(verr.Errors()))
	}

	apiErr := verr.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("details fields has unexpected type %T", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("expected 2 detail entries, got %d", len(fields))
	}
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator returned different instances")
	}
}
