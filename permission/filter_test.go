package permission

import (
	"strconv"
	"sync"
	"testing"

	"github.com/smallnest/maizone/config"
)

func TestRuleSetAllows(t *testing.T) {
	rules := RuleSet{
		Post: []string{"1001"},
		Read: []string{"1001", "3003"},
	}

	tests := []struct {
		name       string
		id         string
		capability Capability
		want       bool
	}{
		{name: "listed post", id: "1001", capability: CapabilityPost, want: true},
		{name: "unlisted post", id: "2002", capability: CapabilityPost, want: false},
		{name: "read only user cannot post", id: "3003", capability: CapabilityPost, want: false},
		{name: "read only user can read", id: "3003", capability: CapabilityRead, want: true},
		{name: "no prefix match", id: "100", capability: CapabilityPost, want: false},
		{name: "no suffix match", id: "10011", capability: CapabilityPost, want: false},
		{name: "empty id", id: "", capability: CapabilityRead, want: false},
		{name: "unknown capability", id: "1001", capability: Capability("admin"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := rules.Allows(Identity{ID: tc.id}, tc.capability); got != tc.want {
				t.Fatalf("Allows(%q, %s) = %v, want %v", tc.id, tc.capability, got, tc.want)
			}
		})
	}
}

func TestEmptyRuleSetDeniesEveryone(t *testing.T) {
	f := NewFilter(RuleSet{})
	for i := 0; i < 200; i++ {
		id := Identity{ID: strconv.Itoa(10000 + i)}
		if f.IsAllowed(id, CapabilityPost) || f.IsAllowed(id, CapabilityRead) {
			t.Fatalf("empty rule set allowed %s", id.ID)
		}
	}
}

func TestWildcardAllowsEveryone(t *testing.T) {
	f := NewFilter(RuleSet{Read: []string{"1001", Wildcard}})
	for i := 0; i < 50; i++ {
		id := Identity{ID: strconv.Itoa(20000 + i)}
		if !f.IsAllowed(id, CapabilityRead) {
			t.Fatalf("wildcard read should allow %s", id.ID)
		}
		if f.IsAllowed(id, CapabilityPost) {
			t.Fatalf("wildcard on read must not grant post to %s", id.ID)
		}
	}
}

func TestFilterReplaceIsAtomicSnapshot(t *testing.T) {
	input := RuleSet{Post: []string{"1001"}}
	f := NewFilter(input)

	// 修改调用方切片不影响快照
	input.Post[0] = "2002"
	if !f.IsAllowed(Identity{ID: "1001"}, CapabilityPost) {
		t.Fatalf("snapshot should be isolated from caller slice")
	}

	f.Replace(RuleSet{Post: []string{"2002"}})
	if f.IsAllowed(Identity{ID: "1001"}, CapabilityPost) {
		t.Fatalf("1001 should be denied after replace")
	}
	if !f.IsAllowed(Identity{ID: "2002"}, CapabilityPost) {
		t.Fatalf("2002 should be allowed after replace")
	}
}

func TestFilterConcurrentReplace(t *testing.T) {
	f := NewFilter(RuleSet{Post: []string{"1001"}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			f.Replace(RuleSet{Post: []string{"1001", strconv.Itoa(i)}})
		}(i)
		go func() {
			defer wg.Done()
			if !f.IsAllowed(Identity{ID: "1001"}, CapabilityPost) {
				t.Errorf("1001 is present in every snapshot")
			}
		}()
	}
	wg.Wait()
}

func TestFromConfig(t *testing.T) {
	rules := FromConfig(config.PermissionsConfig{Post: []string{"1001"}, Read: []string{"*"}})
	if !rules.Allows(Identity{ID: "1001"}, CapabilityPost) {
		t.Fatalf("1001 should be able to post")
	}
	if !rules.Allows(Identity{ID: "9"}, CapabilityRead) {
		t.Fatalf("wildcard read should allow anyone")
	}
}

func TestEntriesAreTrimmed(t *testing.T) {
	rules := FromConfig(config.PermissionsConfig{Post: []string{" 1001", ""}, Read: []string{" * "}})
	if !rules.Allows(Identity{ID: "1001"}, CapabilityPost) {
		t.Fatalf("entry with surrounding spaces should still match")
	}
	if len(rules.Post) != 1 {
		t.Fatalf("empty entries should be dropped, got %q", rules.Post)
	}
	if !rules.Allows(Identity{ID: "9"}, CapabilityRead) {
		t.Fatalf("padded wildcard should allow anyone")
	}

	f := NewFilter(RuleSet{})
	f.Replace(RuleSet{Read: []string{"2002\t"}})
	if !f.IsAllowed(Identity{ID: "2002"}, CapabilityRead) {
		t.Fatalf("Replace should trim entries")
	}
}
