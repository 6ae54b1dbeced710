package importer

import (
	"errors"
	"testing"
)

var testHeader = []string{"NOME", "TURMA", "RA", "EMAIL", "NASCIMENTO"}

func validMapping() Mapping {
	return Mapping{
		"NOME":       FieldName,
		"TURMA":      FieldClass,
		"RA":         FieldRegistration,
		"EMAIL":      FieldEmail,
		"NASCIMENTO": FieldBirthdate,
	}
}

func TestMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mapping Mapping
		wantErr bool
	}{
		{
			name:    "valid full mapping",
			mapping: validMapping(),
		},
		{
			name: "required fields only",
			mapping: Mapping{
				"NOME":  FieldName,
				"TURMA": FieldClass,
				"RA":    FieldRegistration,
			},
		},
		{
			name: "case insensitive column match",
			mapping: Mapping{
				"nome":  FieldName,
				"turma": FieldClass,
				"ra":    FieldRegistration,
			},
		},
		{
			name:    "empty mapping",
			mapping: Mapping{},
			wantErr: true,
		},
		{
			name: "missing required field",
			mapping: Mapping{
				"NOME":  FieldName,
				"TURMA": FieldClass,
			},
			wantErr: true,
		},
		{
			name: "unknown source column",
			mapping: Mapping{
				"NOME":     FieldName,
				"TURMA":    FieldClass,
				"NO_SUCH":  FieldRegistration,
			},
			wantErr: true,
		},
		{
			name: "unknown target field",
			mapping: Mapping{
				"NOME":  FieldName,
				"TURMA": FieldClass,
				"RA":    TargetField("shoe_size"),
			},
			wantErr: true,
		},
		{
			name: "duplicate target field",
			mapping: Mapping{
				"NOME":  FieldName,
				"TURMA": FieldName,
				"RA":    FieldRegistration,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate(testHeader)
			if tt.wantErr {
				var mappingErr *MappingError
				if !errors.As(err, &mappingErr) {
					t.Fatalf("Validate() error = %v, want *MappingError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestApplyMapping(t *testing.T) {
	raw := []RawRow{
		{Line: 2, Cells: []string{"Maria Silva", "5A", "1001", "MARIA@Escola.com", "2012-01-01"}},
		{Line: 3, Cells: []string{"Joao Souza", "5A", "1002", "", ""}},
	}

	rows, errs := applyMapping(raw, testHeader, validMapping())
	if len(errs) != 0 {
		t.Fatalf("applyMapping() errors = %v", errs)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	if got := rows[0].Field(FieldName); got != "Maria Silva" {
		t.Errorf("name = %q", got)
	}
	if got := rows[0].Field(FieldEmail); got != "maria@escola.com" {
		t.Errorf("email not lower-cased: %q", got)
	}
	if rows[1].Line() != 3 {
		t.Errorf("line = %d, want 3", rows[1].Line())
	}
}

func TestApplyMapping_RowErrors(t *testing.T) {
	raw := []RawRow{
		{Line: 2, Cells: []string{"", "5A", "1001", "", ""}},                        // empty name
		{Line: 3, Cells: []string{"Joao", "5A", "1002", "not-an-email", ""}},        // bad email
		{Line: 4, Cells: []string{"Ana; DROP", "5A", "1003", "", ""}},               // forbidden chars
		{Line: 5, Cells: []string{"Bia", "5A", "1004", "", ""}},                     // ok
		{Line: 6, Cells: []string{"Carla", "5A", "1004", "", ""}},                   // duplicate registration
		{Line: 7, Cells: []string{"Duda", "5B", "1005", "duda@escola.com", "2012"}}, // ok
	}

	rows, errs := applyMapping(raw, testHeader, validMapping())

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (lines 5 and 7)", len(rows))
	}
	if rows[0].Line() != 5 || rows[1].Line() != 7 {
		t.Errorf("kept lines = %d, %d", rows[0].Line(), rows[1].Line())
	}

	wantLines := map[int]bool{2: true, 3: true, 4: true, 6: true}
	for _, e := range errs {
		if !wantLines[e.Line] {
			t.Errorf("unexpected error line %d: %s", e.Line, e.Message)
		}
	}
	if len(errs) != 4 {
		t.Errorf("errors = %d, want 4: %v", len(errs), errs)
	}
}

func TestRowImmutable(t *testing.T) {
	src := map[TargetField]string{FieldName: "Maria"}
	row := NewRow(2, src)

	src[FieldName] = "changed"
	if row.Field(FieldName) != "Maria" {
		t.Error("Row aliased its constructor map")
	}

	out := row.Fields()
	out[FieldName] = "changed"
	if row.Field(FieldName) != "Maria" {
		t.Error("Row aliased its Fields() copy")
	}
}
