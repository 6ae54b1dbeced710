package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercases",
			input: "MARIA SILVA",
			want:  "maria silva",
		},
		{
			name:  "strips diacritics",
			input: "José Antônio Müller",
			want:  "jose antonio muller",
		},
		{
			name:  "collapses whitespace",
			input: "  Ana   Clara \t Souza  ",
			want:  "ana clara souza",
		},
		{
			name:  "strips punctuation",
			input: "O'Brien, Jr.",
			want:  "o brien jr",
		},
		{
			name:  "class label with ordinal marker",
			input: "5º Ano A",
			want:  "5 ano a",
		},
		{
			name:  "class label with feminine ordinal marker",
			input: "5ª Série B",
			want:  "5 serie b",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "only punctuation",
			input: "-- // ..",
			want:  "",
		},
		{
			name:  "digits preserved",
			input: "Turma 5A",
			want:  "turma 5a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"José Silva", "MARIA  DA   CONCEIÇÃO", "5ª Série B", "", "Anna-Lena"}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalize_CaseAndAccentInsensitive(t *testing.T) {
	if Normalize("José") != Normalize("JOSE") {
		t.Errorf("Normalize(José) = %q, Normalize(JOSE) = %q, want equal", Normalize("José"), Normalize("JOSE"))
	}
}

func TestHasForbiddenRune(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"Maria Silva", false},
		{"José Antônio", false},
		{"Turma 5A", false},
		{"Silva; DROP TABLE", true},
		{"maria@escola", true},
		{"Ana-Clara", true},
		{"", false},
	}

	for _, tt := range tests {
		if got := HasForbiddenRune(tt.input); got != tt.want {
			t.Errorf("HasForbiddenRune(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
