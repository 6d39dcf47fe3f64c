package main

import (
	"encoding/json"
	"os"
	"testing"
)

func TestSplitRunArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantMode string
		wantRest int
		wantErr  bool
	}{
		{"mode only", []string{"full"}, "full", 0, false},
		{"mode with flags", []string{"incremental", "-project", "/tmp/p"}, "incremental", 2, false},
		{"continue mode", []string{"continue"}, "continue", 0, false},
		{"missing mode", []string{}, "", 0, true},
		{"flag instead of mode", []string{"-project", "/tmp/p"}, "", 0, true},
		{"empty mode", []string{""}, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, rest, err := splitRunArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("splitRunArgs() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("splitRunArgs() error = %v", err)
			}
			if mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", mode, tt.wantMode)
			}
			if len(rest) != tt.wantRest {
				t.Errorf("rest = %v, want %d args", rest, tt.wantRest)
			}
		})
	}
}

func TestPrintJSON(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	printJSON(map[string]int{"total": 42})
	w.Close()

	var decoded map[string]int
	if err := json.NewDecoder(r).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["total"] != 42 {
		t.Errorf("total = %d, want 42", decoded["total"])
	}
}
