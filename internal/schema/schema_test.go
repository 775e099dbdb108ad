package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sha1n/relic-search/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taskSchema = `
name: projects
metadata_fields: [status, owner, project]
sources:
  Task:
    fields:
      - title: subject
      - content: description
      - status
      - owner
      - project
      - modified
    filters:
      status: ["!=", "Cancelled"]
  Note:
    fields:
      - title
      - content: body
      - modified: updated_at
permissions:
  default:
    project: [P1]
  principals:
    admin: {}
`

func TestParse_TaskSchema(t *testing.T) {
	s, err := Parse([]byte(taskSchema))
	require.NoError(t, err)

	assert.Equal(t, "projects", s.Name)
	assert.Equal(t, []string{"title", "content"}, s.TextFields)
	assert.Equal(t, DefaultTokenizer, s.Tokenizer)
	assert.Contains(t, s.MetadataFields, domain.FieldModified, "modified is added implicitly")
	assert.Equal(t, []string{"Note", "Task"}, s.SourceTypes())

	task := s.Sources["Task"]
	src, ok := task.Resolve("title")
	require.True(t, ok)
	assert.Equal(t, "subject", src)

	src, ok = s.Sources["Note"].Resolve("modified")
	require.True(t, ok)
	assert.Equal(t, "updated_at", src)

	require.Len(t, task.Filters, 1)
	assert.Equal(t, OpNotEq, task.Filters[0].Operator)
	assert.Equal(t, "Cancelled", task.Filters[0].Value)

	assert.Equal(t, []string{"P1"}, s.Permissions.Default["project"].Values)
}

func TestValidate_Idempotent(t *testing.T) {
	s, err := Parse([]byte(taskSchema))
	require.NoError(t, err)
	before := append([]string(nil), s.MetadataFields...)

	require.NoError(t, s.Validate())
	assert.Equal(t, before, s.MetadataFields)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no sources", `text_fields: [title]`},
		{"overlapping fields", `
text_fields: [title, content]
metadata_fields: [title]
sources: {Task: {fields: [title, content]}}`},
		{"duplicate text field", `
text_fields: [title, title]
sources: {Task: {fields: [title]}}`},
		{"reserved text field", `
text_fields: [source_id]
sources: {Task: {fields: [title]}}`},
		{"colon in source type", `sources: {"Ta:sk": {fields: [title]}}`},
		{"empty fields", `sources: {Task: {fields: []}}`},
		{"bad tokenizer", `
tokenizer: porter
sources: {Task: {fields: [title]}}`},
		{"bad is operand", `
sources: {Task: {fields: [title], filters: {status: ["is", "maybe"]}}}`},
		{"unknown permission field", `
metadata_fields: [status]
permissions: {default: {owner: alice}}
sources: {Task: {fields: [title]}}`},
		{"like filter on modified", `
permissions: {default: {modified: {like: "2024"}}}
sources: {Task: {fields: [title, modified]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestValidate_PermissionOnModified(t *testing.T) {
	s, err := Parse([]byte(`
permissions: {default: {modified: "2025-01-02"}}
sources: {Task: {fields: [title, modified]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-02"}, s.Permissions.Default[domain.FieldModified].Values)

	_, err = Parse([]byte(`
permissions: {default: {modified: "soon"}}
sources: {Task: {fields: [title, modified]}}`))
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestValidate_NonOperatorPairIsMembership(t *testing.T) {
	// A two element list whose first item is not an operator is a membership test.
	s, err := Parse([]byte(`
sources: {Task: {fields: [title], filters: {status: ["Open", "Closed"]}}}`))
	require.NoError(t, err)
	assert.Equal(t, OpIn, s.Sources["Task"].Filters[0].Operator)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(taskSchema), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "projects", s.Name)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus: 1\n"+taskSchema), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSchema_FieldHelpers(t *testing.T) {
	s, err := Parse([]byte(taskSchema))
	require.NoError(t, err)

	assert.True(t, s.IsMetadataField("status"))
	assert.True(t, s.IsMetadataField(domain.FieldSourceType))
	assert.False(t, s.IsMetadataField("title"))
	assert.Equal(t, "title", s.TitleField())

	assert.NoError(t, s.CheckFilterFields(domain.Filters{"status": domain.Eq("Open")}))
	assert.ErrorIs(t, s.CheckFilterFields(domain.Filters{"priority": domain.Eq("High")}), ErrInvalidSchema)
}

func TestSourceMapping_UnresolvedTextFields(t *testing.T) {
	m := &SourceMapping{Fields: []FieldMapping{{Target: "title", Source: "subject"}}}
	assert.Equal(t, []string{"content"}, m.UnresolvedTextFields([]string{"title", "content"}))
	assert.Equal(t, []string{"subject"}, m.SourceFields())
}

func TestParseTokenizer(t *testing.T) {
	tests := []struct {
		spec    string
		want    TokenizerConfig
		wantErr bool
	}{
		{"unicode", TokenizerConfig{Base: TokenizerUnicode}, false},
		{"unicode61 remove_diacritics 2", TokenizerConfig{Base: TokenizerUnicode, RemoveDiacritics: true}, false},
		{"unicode remove_diacritics 0", TokenizerConfig{Base: TokenizerUnicode}, false},
		{"unicode tokenchars=-_", TokenizerConfig{Base: TokenizerUnicode, TokenChars: "-_"}, false},
		{"whitespace remove_diacritics", TokenizerConfig{Base: TokenizerWhitespace, RemoveDiacritics: true}, false},
		{"whitespace tokenchars=-", TokenizerConfig{}, true},
		{"", TokenizerConfig{}, true},
		{"unicode stem", TokenizerConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseTokenizer(tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchema)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
