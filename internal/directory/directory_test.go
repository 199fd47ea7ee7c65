package directory

import (
	"testing"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/errs"
)

func entry(name string) Entry {
	return Entry{Name: name, Type: "agent"}
}

func TestRegisterDuplicateEntry(t *testing.T) {
	d := New()
	if err := d.Register(entry("a")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := d.Register(entry("a")); !errs.Is(err, errs.DuplicateEntry) {
		t.Fatalf("expected DuplicateEntry, got %v", err)
	}
}

func TestModifySameNameSucceeds(t *testing.T) {
	d := New()
	_ = d.Register(entry("a"))
	modified := entry("a")
	modified.Description = "updated"
	if err := d.Modify(modified); err != nil {
		t.Fatalf("modify: %v", err)
	}
	list, _ := d.Search("^a$", NAME, true)
	if len(list) != 1 || list[0].Description != "updated" {
		t.Fatalf("modify did not apply: %+v", list)
	}
}

func TestModifyMissingFails(t *testing.T) {
	d := New()
	if err := d.Modify(entry("missing")); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearchFullStringMatch(t *testing.T) {
	d := New()
	_ = d.Register(entry("test-A"))
	_ = d.Register(entry("test-B"))

	all, err := d.Search(".*$", NAME, true)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 matches, got %d err=%v", len(all), err)
	}

	_, err = d.Search("other$", NAME, true)
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearchDoesNotMatchAsSubstring(t *testing.T) {
	d := New()
	_ = d.Register(entry("a1"))
	_ = d.Register(entry("ba1"))

	results, err := d.Search("a1$", NAME, true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Name != "a1" {
		t.Fatalf("expected only the exact-name match, got %+v", results)
	}

	d2 := New()
	_ = d2.Register(entry("test-A"))
	_ = d2.Register(entry("test-B"))
	if _, err := d2.Search("test", NAME, true); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound since 'test' only substring-matches 'test-A'/'test-B', got %v", err)
	}
}

func TestDeregisterRemovesOnlyFirstMatch(t *testing.T) {
	d := New()
	_ = d.Register(entry("dup-1"))
	_ = d.Register(entry("dup-2"))

	if err := d.Deregister("dup-.*", NAME); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	remaining, _ := d.Search("dup-.*", NAME, false)
	if len(remaining) != 1 {
		t.Fatalf("expected exactly one survivor after single-match deregister, got %d", len(remaining))
	}
}

func TestDeregisterNotFound(t *testing.T) {
	d := New()
	if err := d.Deregister("nope", NAME); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestClearSelectivelyRemovesAllMatches(t *testing.T) {
	d := New()
	_ = d.Register(entry("dup-1"))
	_ = d.Register(entry("dup-2"))
	if err := d.ClearSelectively("dup-.*", NAME); err != nil {
		t.Fatalf("clear selectively: %v", err)
	}
	remaining, _ := d.Search("dup-.*", NAME, false)
	if len(remaining) != 0 {
		t.Fatalf("expected no survivors, got %d", len(remaining))
	}
}

func TestTimestampMonotonic(t *testing.T) {
	d := New()
	t0 := d.Timestamp()
	_ = d.Register(entry("a"))
	t1 := d.Timestamp()
	if t1.Before(t0) {
		t.Fatalf("timestamp went backwards")
	}
	_ = d.Register(entry("b"))
	t2 := d.Timestamp()
	if !t2.After(t1) && t2.Equal(t1) {
		t.Fatalf("timestamp did not advance on second mutation")
	}
}

func TestMergeSelectivelyReplacesByField(t *testing.T) {
	d := New()
	old := Entry{Name: "agent-1", Type: "worker"}
	_ = d.Register(old)

	updates := []Entry{
		{Name: "agent-1", Type: "worker"},
		{Name: "agent-2", Type: "worker"},
	}
	if err := d.MergeSelectively(updates, TYPE); err != nil {
		t.Fatalf("merge selectively: %v", err)
	}
	all := d.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries after merge, got %d", len(all))
	}
}

func TestMergeSelectivelyDuplicateWithinUpdatesFails(t *testing.T) {
	d := New()
	updates := []Entry{
		{Name: "dup", Type: "worker"},
		{Name: "dup", Type: "worker"},
	}
	if err := d.MergeSelectively(updates, TYPE); !errs.Is(err, errs.DuplicateEntry) {
		t.Fatalf("expected DuplicateEntry, got %v", err)
	}
}
