package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quazardous/qdadm/model"
)

const booksYAML = `
entity: books
version: "1"
label: Book
label_plural: Books
label_field: title
route_prefix: books
menu:
  label: Books
  order: 1
backend:
  driver: rest
  service_id: library
  schema: Book
list:
  columns:
    - field: title
      label: Title
      sortable: true
    - field: status
      label: Status
  search_fields: [title]
  default_sort: title
  filters:
    - name: status
      label: Status
      options_endpoint: true
    - name: author
      label: Author
      options_entity: authors
form:
  validate: true
  redirect: list
`

const authorsYAML = `
entity: authors
version: "1"
label: Author
route_prefix: authors
backend:
  driver: memory
list:
  columns:
    - field: name
      label: Name
`

func writeDefs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func loadDefs(t *testing.T) []model.EntityDefinition {
	t.Helper()
	dir := writeDefs(t, map[string]string{
		"books.yaml":   booksYAML,
		"authors.yaml": authorsYAML,
	})
	defs, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return defs
}

func TestLoader(t *testing.T) {
	defs := loadDefs(t)
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}

	var books model.EntityDefinition
	for _, def := range defs {
		if def.Entity == "books" {
			books = def
		}
	}
	if books.Label != "Book" || books.LabelField != "title" {
		t.Errorf("books = %+v", books)
	}
	if books.Checksum == "" || books.SourceFile == "" {
		t.Error("checksum or source file not recorded")
	}
	if len(books.List.Filters) != 2 {
		t.Fatalf("filters = %+v", books.List.Filters)
	}
	// A boolean options_endpoint survives the YAML round trip.
	if ep, ok := books.List.Filters[0].OptionsEndpoint.(bool); !ok || !ep {
		t.Errorf("options_endpoint = %v (%T)", books.List.Filters[0].OptionsEndpoint,
			books.List.Filters[0].OptionsEndpoint)
	}
}

func TestValidator_acceptsValidDefinitions(t *testing.T) {
	defs := loadDefs(t)
	if errs := NewValidator().Validate(defs); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestValidator_flagsProblems(t *testing.T) {
	defs := []model.EntityDefinition{
		{
			// Missing entity, label, columns; rest driver without service.
			Backend: model.BackendBinding{Driver: "rest"},
		},
		{
			Entity: "chapters",
			Label:  "Chapter",
			Parent: &model.ParentRef{Entity: "books"},
			List: model.ListDefinition{
				Columns: []model.ColumnDefinition{{Field: "title"}},
				Filters: []model.FilterDefinition{
					{
						Name:            "status",
						Static:          []model.StaticOption{{Label: "A", Value: "a"}},
						OptionsEndpoint: true,
					},
					{Name: "status", Label: "Status"},
				},
			},
			Backend: model.BackendBinding{Driver: "carrier-pigeon"},
		},
	}

	errs := NewValidator().Validate(defs)
	codes := map[string]int{}
	for _, e := range errs {
		codes[e.Code]++
	}
	if codes["REQUIRED"] < 4 {
		t.Errorf("REQUIRED errors = %d, want >= 4: %v", codes["REQUIRED"], errs)
	}
	if codes["UNRESOLVED"] != 1 {
		t.Errorf("UNRESOLVED errors = %d: %v", codes["UNRESOLVED"], errs)
	}
	if codes["INVALID"] != 1 {
		t.Errorf("INVALID errors = %d: %v", codes["INVALID"], errs)
	}
	if codes["CONFLICT"] != 1 {
		t.Errorf("CONFLICT errors = %d: %v", codes["CONFLICT"], errs)
	}
	if codes["DUPLICATE"] != 1 {
		t.Errorf("DUPLICATE errors = %d: %v", codes["DUPLICATE"], errs)
	}
}

func TestRegistry_snapshotSwap(t *testing.T) {
	defs := loadDefs(t)
	r := NewRegistry(defs)

	books, ok := r.Get("books")
	if !ok || books.Label != "Book" {
		t.Fatalf("Get books = %+v, %v", books, ok)
	}
	if _, ok := r.GetByPrefix("authors"); !ok {
		t.Error("GetByPrefix authors failed")
	}
	if got := r.Entities(); len(got) != 2 || got[0] != "authors" {
		t.Errorf("Entities = %v", got)
	}

	first := r.Checksum()
	if first == "" {
		t.Fatal("empty checksum")
	}

	r.Replace(defs[:1])
	if r.Checksum() == first {
		t.Error("checksum unchanged after replace")
	}
	if len(r.All()) != 1 {
		t.Errorf("All = %v", r.All())
	}
}
