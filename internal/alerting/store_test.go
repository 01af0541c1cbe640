package alerting

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cinderlog/cinder/internal/models"
)

func findByRuleKey(t *testing.T, s *Store, ruleKey string) *models.Alert {
	t.Helper()
	for _, alert := range s.List("", "") {
		if alert.RuleKey == ruleKey {
			return alert
		}
	}
	return nil
}

func TestStore_Trigger_OpensAlert(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	alert, created := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "Error rate is 6.0%")
	if !created {
		t.Fatal("first trigger should create the alert")
	}
	if alert.ID == "" {
		t.Error("alert should have an ID")
	}
	if alert.Status != models.StatusOpen {
		t.Errorf("status = %v, want OPEN", alert.Status)
	}
	if alert.OccurrenceCount != 1 {
		t.Errorf("occurrence count = %d, want 1", alert.OccurrenceCount)
	}
	if !alert.FirstSeen.Equal(now) || !alert.LastOccurrence.Equal(now) {
		t.Errorf("first seen %v / last occurrence %v, want both %v", alert.FirstSeen, alert.LastOccurrence, now)
	}
	if s.Len() != 1 {
		t.Errorf("store size = %d, want 1", s.Len())
	}
}

func TestStore_Trigger_UpdatesExisting(t *testing.T) {
	s := NewStore()
	first := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "Error rate is 6.0%")

	// Repeat violations update in place instead of duplicating.
	later := first.Add(5 * time.Minute)
	s.now = func() time.Time { return later }
	for i := 0; i < 4; i++ {
		_, created := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "Error rate is 7.5%")
		if created {
			t.Fatal("repeat trigger should not create a new alert")
		}
	}

	if s.Len() != 1 {
		t.Fatalf("store size = %d, want 1", s.Len())
	}
	alert := findByRuleKey(t, s, RuleHighErrorRate)
	if alert.OccurrenceCount != 5 {
		t.Errorf("occurrence count = %d, want 5", alert.OccurrenceCount)
	}
	if alert.Description != "Error rate is 7.5%" {
		t.Errorf("description = %q, want the refreshed value", alert.Description)
	}
	if !alert.FirstSeen.Equal(first) {
		t.Errorf("first seen = %v, want unchanged %v", alert.FirstSeen, first)
	}
	if !alert.LastOccurrence.Equal(later) {
		t.Errorf("last occurrence = %v, want %v", alert.LastOccurrence, later)
	}
}

func TestStore_Trigger_ResolvedIsTerminal(t *testing.T) {
	s := NewStore()

	opened, _ := s.Trigger(RuleHighLogVolume, models.SeverityLow, "system", "High Log Volume", "Log volume is 11 entries")
	if _, err := s.Resolve(opened.ID, "oncall", "cleared backlog"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	alert, created := s.Trigger(RuleHighLogVolume, models.SeverityLow, "system", "High Log Volume", "Log volume is 50 entries")
	if created || alert != nil {
		t.Error("a resolved alert must not be retriggered")
	}

	got, err := s.Get(opened.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusResolved {
		t.Errorf("status = %v, want RESOLVED", got.Status)
	}
	if got.OccurrenceCount != 1 {
		t.Errorf("occurrence count = %d, want 1 after resolution", got.OccurrenceCount)
	}
	if got.Description != "Log volume is 11 entries" {
		t.Errorf("description = %q, want unchanged after resolution", got.Description)
	}
}

func TestStore_AcknowledgeLifecycle(t *testing.T) {
	s := NewStore()
	opened, _ := s.Trigger(RuleRecentErrorSpike, models.SeverityHigh, "system", "Recent Error Spike", "4 errors in the last 10 minutes")

	acked, err := s.Acknowledge(opened.ID, "alice")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.StatusAcknowledged {
		t.Errorf("status = %v, want ACKNOWLEDGED", acked.Status)
	}
	if acked.AcknowledgedBy != "alice" || acked.AcknowledgedAt == nil {
		t.Errorf("acknowledger = %q at %v, want alice with timestamp", acked.AcknowledgedBy, acked.AcknowledgedAt)
	}

	// Acknowledging again is idempotent and keeps the original operator.
	again, err := s.Acknowledge(opened.ID, "bob")
	if err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
	if again.AcknowledgedBy != "alice" {
		t.Errorf("acknowledger = %q, want alice preserved", again.AcknowledgedBy)
	}

	// A repeat violation while acknowledged updates counters without
	// reverting the status.
	s.Trigger(RuleRecentErrorSpike, models.SeverityHigh, "system", "Recent Error Spike", "6 errors in the last 10 minutes")
	got, _ := s.Get(opened.ID)
	if got.Status != models.StatusAcknowledged {
		t.Errorf("status = %v, want ACKNOWLEDGED after repeat violation", got.Status)
	}
	if got.OccurrenceCount != 2 {
		t.Errorf("occurrence count = %d, want 2", got.OccurrenceCount)
	}
}

func TestStore_Acknowledge_Errors(t *testing.T) {
	s := NewStore()
	opened, _ := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "Error rate is 6.0%")
	s.Resolve(opened.ID, "alice", "fixed")

	if _, err := s.Acknowledge(opened.ID, "bob"); !errors.Is(err, ErrAlertResolved) {
		t.Errorf("acknowledge resolved: err = %v, want ErrAlertResolved", err)
	}
	if _, err := s.Acknowledge("no-such-id", "bob"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("acknowledge missing: err = %v, want ErrAlertNotFound", err)
	}
	if _, err := s.Resolve("no-such-id", "bob", ""); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("resolve missing: err = %v, want ErrAlertNotFound", err)
	}
}

func TestStore_Resolve_Idempotent(t *testing.T) {
	s := NewStore()
	opened, _ := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "Error rate is 6.0%")

	first, err := s.Resolve(opened.ID, "alice", "restarted the pods")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Status != models.StatusResolved || first.ResolvedBy != "alice" {
		t.Errorf("resolved by %q with status %v, want alice RESOLVED", first.ResolvedBy, first.Status)
	}
	if first.ResolutionNotes != "restarted the pods" {
		t.Errorf("notes = %q, want the provided notes", first.ResolutionNotes)
	}

	second, err := s.Resolve(opened.ID, "bob", "different notes")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ResolvedBy != "alice" || second.ResolutionNotes != "restarted the pods" {
		t.Errorf("second resolve overwrote the original resolution: %+v", second)
	}
}

func TestStore_List(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "d1")

	s.now = func() time.Time { return base.Add(time.Minute) }
	s.Trigger(RuleHighLogVolume, models.SeverityLow, "system", "High Log Volume", "d2")

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	spike, _ := s.Trigger(RuleRecentErrorSpike, models.SeverityHigh, "system", "Recent Error Spike", "d3")
	s.Acknowledge(spike.ID, "alice")

	all := s.List("", "")
	if len(all) != 3 {
		t.Fatalf("list = %d alerts, want 3", len(all))
	}
	// Newest last-occurrence first
	if all[0].RuleKey != RuleRecentErrorSpike || all[2].RuleKey != RuleHighErrorRate {
		t.Errorf("order = [%s %s %s], want newest first", all[0].RuleKey, all[1].RuleKey, all[2].RuleKey)
	}

	open := s.List(models.StatusOpen, "")
	if len(open) != 2 {
		t.Errorf("open = %d alerts, want 2", len(open))
	}

	high := s.List("", models.SeverityHigh)
	if len(high) != 2 {
		t.Errorf("high = %d alerts, want 2", len(high))
	}

	openHigh := s.List(models.StatusOpen, models.SeverityHigh)
	if len(openHigh) != 1 || openHigh[0].RuleKey != RuleHighErrorRate {
		t.Errorf("open+high = %+v, want just HIGH_ERROR_RATE", openHigh)
	}
}

func TestStore_CountByStatus(t *testing.T) {
	s := NewStore()

	a, _ := s.Trigger("RULE_A", models.SeverityLow, "system", "A", "d")
	s.Trigger("RULE_B", models.SeverityLow, "system", "B", "d")
	c, _ := s.Trigger("RULE_C", models.SeverityLow, "system", "C", "d")

	s.Acknowledge(a.ID, "alice")
	s.Resolve(c.ID, "bob", "")

	counts := s.CountByStatus()
	if counts[models.StatusOpen] != 1 {
		t.Errorf("open = %d, want 1", counts[models.StatusOpen])
	}
	if counts[models.StatusAcknowledged] != 1 {
		t.Errorf("acknowledged = %d, want 1", counts[models.StatusAcknowledged])
	}
	if counts[models.StatusResolved] != 1 {
		t.Errorf("resolved = %d, want 1", counts[models.StatusResolved])
	}
}

func TestStore_Clear_AllowsReopening(t *testing.T) {
	s := NewStore()

	opened, _ := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "d")
	s.Resolve(opened.ID, "alice", "")

	// Parked on the resolved alert.
	if _, created := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "d"); created {
		t.Fatal("resolved rule key should not retrigger")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("store size = %d, want 0 after clear", s.Len())
	}

	if _, created := s.Trigger(RuleHighErrorRate, models.SeverityHigh, "system", "High Error Rate", "d"); !created {
		t.Error("a cleared store should open fresh alerts for previously resolved keys")
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("err = %v, want ErrAlertNotFound", err)
	}
}

func TestStore_ConcurrentTriggers(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("RULE_%d", n%4)
				s.Trigger(key, models.SeverityLow, "system", "T", "d")
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 4 {
		t.Fatalf("store size = %d, want 4 distinct rule keys", s.Len())
	}
	var total int
	for _, alert := range s.List("", "") {
		total += alert.OccurrenceCount
	}
	if total != 800 {
		t.Errorf("total occurrences = %d, want 800", total)
	}
}
