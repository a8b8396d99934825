// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

package validation

import "testing"

type sampleRequest struct {
	ItemType string `validate:"required,itemtype"`
	Mode     string `validate:"required,recmode"`
	Code     string `validate:"omitempty,sharecode"`
	Limit    int    `validate:"min=1,max=100"`
}

func TestValidateStructPasses(t *testing.T) {
	req := sampleRequest{ItemType: "anime", Mode: "new", Limit: 5}
	if err := ValidateStruct(&req); err != nil {
		t.Errorf("expected valid struct, got %v", err)
	}
}

func TestValidateStructCustomTags(t *testing.T) {
	tests := []struct {
		name string
		req  sampleRequest
	}{
		{"bad item type", sampleRequest{ItemType: "movie", Mode: "new", Limit: 5}},
		{"bad mode", sampleRequest{ItemType: "anime", Mode: "fresh", Limit: 5}},
		{"bad share code", sampleRequest{ItemType: "manga", Mode: "rewatch", Code: "0O1lI0O1", Limit: 5}},
		{"short share code", sampleRequest{ItemType: "manga", Mode: "new", Code: "abc", Limit: 5}},
		{"limit too high", sampleRequest{ItemType: "anime", Mode: "new", Limit: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateStruct(&tt.req); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateStructCollectsAllErrors(t *testing.T) {
	req := sampleRequest{ItemType: "movie", Mode: "fresh", Limit: 0}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Errors()) != 3 {
		t.Errorf("expected 3 field errors, got %d: %v", len(err.Errors()), err)
	}
}

func TestIsShareCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"AbCd2345", true},
		{"ZYXWVUTS", true},
		{"AbCd234", false},  // too short
		{"AbCd23456", false}, // too long
		{"AbCd234O", false},  // ambiguous O
		{"AbCd2341", false},  // ambiguous 1
		{"", false},
	}

	for _, tt := range tests {
		if got := IsShareCode(tt.code); got != tt.want {
			t.Errorf("IsShareCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
