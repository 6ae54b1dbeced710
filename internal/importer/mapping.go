package importer

// mapping.go validates a submitted column mapping and materializes raw CSV
// rows into typed, immutable Rows. Content validation (required fields,
// email shape, forbidden characters, in-file duplicate registrations) runs
// here because it is only meaningful once columns have names.

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rosterflow/rosterflow/internal/textnorm"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}$`)

// Validate checks the mapping against the upload's header: every source
// column must exist, every target must be a known field mapped at most once,
// and all required targets must be covered. Fails with *MappingError.
func (m Mapping) Validate(header []string) error {
	if len(m) == 0 {
		return &MappingError{Message: "no columns mapped"}
	}

	index := headerIndex(header)
	mapped := make(map[TargetField]string, len(m))

	for column, field := range m {
		if !targetFields[field] {
			return &MappingError{Column: column, Message: fmt.Sprintf("unknown target field %q", field)}
		}
		if _, ok := index[strings.ToLower(column)]; !ok {
			return &MappingError{Column: column, Message: "column not present in uploaded file"}
		}
		if prev, dup := mapped[field]; dup {
			return &MappingError{Column: column, Field: field, Message: fmt.Sprintf("target already mapped from column %q", prev)}
		}
		mapped[field] = column
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := mapped[field]; !ok {
			missing = append(missing, string(field))
		}
	}
	if len(missing) > 0 {
		return &MappingError{Message: "required fields not mapped: " + strings.Join(missing, ", ")}
	}

	return nil
}

// applyMapping turns raw rows into Rows using a validated mapping. Rows with
// content errors are excluded from the result; every problem is reported in
// the returned error list so the client sees the whole picture at once.
func applyMapping(raw []RawRow, header []string, m Mapping) ([]Row, []ValidationError) {
	index := headerIndex(header)

	positions := make(map[TargetField]int, len(m))
	for column, field := range m {
		positions[field] = index[strings.ToLower(column)]
	}

	var (
		rows          []Row
		errs          []ValidationError
		registrations = make(map[string]int, len(raw)) // registration -> first line
	)

	for _, rr := range raw {
		fields := make(map[TargetField]string, len(positions))
		for field, pos := range positions {
			value := ""
			if pos < len(rr.Cells) {
				value = strings.TrimSpace(rr.Cells[pos])
			}
			if field == FieldEmail {
				value = strings.ToLower(value)
			}
			fields[field] = value
		}

		rowErrs := validateRowContent(rr.Line, fields)

		if reg := fields[FieldRegistration]; reg != "" {
			if firstLine, dup := registrations[reg]; dup {
				rowErrs = append(rowErrs, ValidationError{
					Line:    rr.Line,
					Field:   string(FieldRegistration),
					Message: fmt.Sprintf("registration %q already appears on line %d", reg, firstLine),
				})
			} else {
				registrations[reg] = rr.Line
			}
		}

		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		rows = append(rows, NewRow(rr.Line, fields))
	}

	return rows, errs
}

// validateRowContent checks one row's mapped values: required fields are
// present, email is well-formed, and identity fields contain only letters,
// digits and spaces.
func validateRowContent(line int, fields map[TargetField]string) []ValidationError {
	var errs []ValidationError

	for _, field := range requiredFields {
		if fields[field] == "" {
			errs = append(errs, ValidationError{
				Line:    line,
				Field:   string(field),
				Message: "required field is empty",
			})
		}
	}

	if email := fields[FieldEmail]; email != "" && !emailPattern.MatchString(email) {
		errs = append(errs, ValidationError{
			Line:    line,
			Field:   string(FieldEmail),
			Message: fmt.Sprintf("invalid email address %q", email),
		})
	}

	for _, field := range []TargetField{FieldName, FieldClass} {
		if value := fields[field]; value != "" && textnorm.HasForbiddenRune(value) {
			errs = append(errs, ValidationError{
				Line:    line,
				Field:   string(field),
				Message: fmt.Sprintf("value %q contains characters that are not allowed", value),
			})
		}
	}

	return errs
}

// headerIndex maps lower-cased header names to their column position.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(h)] = i
	}
	return idx
}
