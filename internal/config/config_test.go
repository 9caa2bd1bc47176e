package config

import (
	"testing"

	"github.com/aousterh/fabricemu"
	"github.com/aousterh/fabricemu/internal/fabric"
)

func TestLoaderDefaults(t *testing.T) {
	l := NewLoader()
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Racks != 1 {
		t.Errorf("Racks = %d, want 1", cfg.Racks)
	}
	if cfg.Assignment != fabricemu.SingleCore {
		t.Errorf("Assignment = %v, want SingleCore", cfg.Assignment)
	}
	if cfg.Discipline != fabric.DropTail {
		t.Errorf("Discipline = %v, want DropTail", cfg.Discipline)
	}
}

func TestParseAssignment(t *testing.T) {
	cases := map[string]fabricemu.CoreAssignment{
		"single-core": fabricemu.SingleCore,
		"per-driver":  fabricemu.PerDriver,
		"per_driver":  fabricemu.PerDriver,
	}
	for s, want := range cases {
		got, err := parseAssignment(s)
		if err != nil {
			t.Fatalf("parseAssignment(%q) failed: %v", s, err)
		}
		if got != want {
			t.Errorf("parseAssignment(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := parseAssignment("bogus"); err == nil {
		t.Error("expected error for unknown assignment")
	}
}

func TestParseDiscipline(t *testing.T) {
	cases := map[string]fabric.Discipline{
		"red":   fabric.RED,
		"dctcp": fabric.DCTCP,
		"hull":  fabric.HULL,
	}
	for s, want := range cases {
		got, err := parseDiscipline(s)
		if err != nil {
			t.Fatalf("parseDiscipline(%q) failed: %v", s, err)
		}
		if got != want {
			t.Errorf("parseDiscipline(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := parseDiscipline("bogus"); err == nil {
		t.Error("expected error for unknown discipline")
	}
}
