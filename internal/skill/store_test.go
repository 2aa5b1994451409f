package skill

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "skills.yaml")
}

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	skillStore := NewStore(testStorePath(t), nil)
	if err := skillStore.Load(); err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if got := skillStore.All(); len(got) != 0 {
		t.Fatalf("expected empty store, got %d definitions", len(got))
	}
}

func TestLoadRejectsUndecodableFile(t *testing.T) {
	path := testStorePath(t)
	if err := os.WriteFile(path, []byte(":\nnot yaml at all ["), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	skillStore := NewStore(path, nil)
	err := skillStore.Load()
	if !errors.Is(err, ErrInvalidDefinitions) {
		t.Fatalf("expected ErrInvalidDefinitions, got %v", err)
	}
}

func TestLoadRejectsDuplicateKeys(t *testing.T) {
	path := testStorePath(t)
	content := `definitions:
  - connectorId: shared_office365
    businessMeaning: first
  - connectorId: shared_office365
    businessMeaning: second
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	skillStore := NewStore(path, nil)
	if err := skillStore.Load(); !errors.Is(err, ErrInvalidDefinitions) {
		t.Fatalf("expected ErrInvalidDefinitions for duplicate keys, got %v", err)
	}
}

func TestUpsertPersistsAndReloads(t *testing.T) {
	path := testStorePath(t)
	skillStore := NewStore(path, nil)
	if err := skillStore.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	definition := Definition{
		ConnectorID:     "shared_office365",
		ActionName:      "SendEmailV2",
		BusinessMeaning: "Send a notification email",
		FailureImpact:   "Recipients are not informed",
	}
	if err := skillStore.Upsert(definition); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reloaded := NewStore(path, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	all := reloaded.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 definition after reload, got %d", len(all))
	}
	if all[0].Key() != "shared_office365/SendEmailV2" {
		t.Fatalf("unexpected key %q", all[0].Key())
	}
	if all[0].UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be stamped on upsert")
	}
}

func TestUpsertReplacesMatchingKey(t *testing.T) {
	skillStore := NewStore(testStorePath(t), nil)
	first := Definition{ConnectorID: "shared_teams", BusinessMeaning: "old meaning"}
	if err := skillStore.Upsert(first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := Definition{ConnectorID: "shared_teams", BusinessMeaning: "new meaning"}
	if err := skillStore.Upsert(second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all := skillStore.All()
	if len(all) != 1 {
		t.Fatalf("expected replacement, got %d definitions", len(all))
	}
	if all[0].BusinessMeaning != "new meaning" {
		t.Fatalf("expected replaced meaning, got %q", all[0].BusinessMeaning)
	}
}

func TestUpsertRejectsInvalidDefinition(t *testing.T) {
	skillStore := NewStore(testStorePath(t), nil)
	if err := skillStore.Upsert(Definition{}); err == nil {
		t.Fatal("expected error for empty connector id")
	}
	mismatch := Definition{ConnectorID: "shared_office365/SendEmailV2", ActionName: "ReplyTo"}
	if err := skillStore.Upsert(mismatch); err == nil {
		t.Fatal("expected error for composite id not matching action name")
	}
	bareComposite := Definition{ConnectorID: "shared_office365/SendEmailV2"}
	if err := bareComposite.Validate(); err == nil {
		t.Fatal("expected error for composite id without action name")
	}
}

func TestSeedInsertsOnlyMissing(t *testing.T) {
	skillStore := NewStore(testStorePath(t), nil)
	existing := Definition{
		ConnectorID:     "shared_onedriveforbusiness",
		BusinessMeaning: "customized meaning",
	}
	if err := skillStore.Upsert(existing); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	inserted, err := skillStore.Seed(SeedDefinitions)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if inserted != len(SeedDefinitions)-1 {
		t.Fatalf("expected %d insertions, got %d", len(SeedDefinitions)-1, inserted)
	}

	for _, definition := range skillStore.All() {
		if definition.Key() == "shared_onedriveforbusiness" {
			if definition.BusinessMeaning != "customized meaning" {
				t.Fatalf("seed overwrote existing definition: %q", definition.BusinessMeaning)
			}
			return
		}
	}
	t.Fatal("existing definition missing after seed")
}

func TestSeedIsIdempotent(t *testing.T) {
	skillStore := NewStore(testStorePath(t), nil)
	if _, err := skillStore.Seed(SeedDefinitions); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	inserted, err := skillStore.Seed(SeedDefinitions)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected no insertions on repeated seed, got %d", inserted)
	}
}

func TestAllReturnsSortedSnapshot(t *testing.T) {
	skillStore := NewStore(testStorePath(t), nil)
	for _, id := range []string{"shared_teams", "shared_approvals", "shared_office365"} {
		if err := skillStore.Upsert(Definition{ConnectorID: id}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	all := skillStore.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Key() > all[i].Key() {
			t.Fatalf("definitions not sorted: %q before %q", all[i-1].Key(), all[i].Key())
		}
	}

	all[0].BusinessMeaning = "mutated"
	if skillStore.All()[0].BusinessMeaning == "mutated" {
		t.Fatal("All returned shared backing storage")
	}
}
