package fabricemu

import (
	"strings"
	"testing"
	"time"

	"github.com/aousterh/fabricemu/internal/fabric"
)

func TestStatsSnapshotAggregation(t *testing.T) {
	cores := []fabric.Stats{
		{Admit: 10, Drop: 2, Mark: 1, Pushed: 5, Pulled: 6},
		{Admit: 20, Drop: 3, BacklogEnqueueFailed: 1},
	}
	started := time.Now().Add(-2 * time.Second)
	snap := NewStatsSnapshot("run-1", started, cores)

	if snap.Admit != 30 {
		t.Errorf("expected Admit 30, got %d", snap.Admit)
	}
	if snap.Drop != 5 {
		t.Errorf("expected Drop 5, got %d", snap.Drop)
	}
	if snap.Mark != 1 {
		t.Errorf("expected Mark 1, got %d", snap.Mark)
	}
	if snap.TotalDemand() != 35 {
		t.Errorf("expected TotalDemand 35, got %d", snap.TotalDemand())
	}
	if snap.ElapsedS < 1.9 {
		t.Errorf("expected ElapsedS >= ~2s, got %f", snap.ElapsedS)
	}
}

func TestStatsSnapshotDropRate(t *testing.T) {
	snap := StatsSnapshot{Admit: 90, Drop: 10}
	if rate := snap.DropRate(); rate < 0.099 || rate > 0.101 {
		t.Errorf("expected drop rate ~0.1, got %f", rate)
	}

	empty := StatsSnapshot{}
	if rate := empty.DropRate(); rate != 0 {
		t.Errorf("expected drop rate 0 with no demand, got %f", rate)
	}
}

func TestStatsSnapshotDropBreakdown(t *testing.T) {
	snap := StatsSnapshot{
		Drop:                 10,
		BacklogEnqueueFailed: 4,
		ResetEnqueueFailed:   2,
		AllocFailed:          1,
		WaitForAdmitted:      1,
		AdmittedAllocFailed:  1,
	}
	b := snap.DropBreakdown()
	if b.DemandDrop != 4 {
		t.Errorf("expected DemandDrop 4, got %d", b.DemandDrop)
	}
	if b.PolicyDrop != 6 {
		t.Errorf("expected PolicyDrop 6, got %d", b.PolicyDrop)
	}
	if b.ResetDrop != 2 {
		t.Errorf("expected ResetDrop 2, got %d", b.ResetDrop)
	}
	if b.AllocStall != 3 {
		t.Errorf("expected AllocStall 3, got %d", b.AllocStall)
	}
}

func TestStatsSnapshotReport(t *testing.T) {
	snap := StatsSnapshot{RunID: "abc", Admit: 8, Drop: 2, BacklogEnqueueFailed: 2}
	report := snap.Report()
	if !strings.Contains(report, "run=abc") {
		t.Errorf("expected report to mention run id, got %q", report)
	}
	if !strings.Contains(report, "drop breakdown") {
		t.Errorf("expected report to include drop breakdown, got %q", report)
	}
}

func TestNoOpObserver(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveAdmit()
	o.ObserveDrop(DropBreakdown{})
	o.ObserveMark()
	o.ObserveTimeslot(0, time.Microsecond)
}
