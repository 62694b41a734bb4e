package modelid

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantEng   string
		wantModel string
		wantErr   bool
	}{
		{"simple", "flm://ollama/llama2", "ollama", "llama2", false},
		{"model with slash", "flm://vllm/meta/llama-3-8b", "vllm", "meta/llama-3-8b", false},
		{"model with colon tag", "flm://ollama/llama2:latest", "ollama", "llama2:latest", false},
		{"missing scheme", "ollama/llama2", "", "", true},
		{"missing model", "flm://ollama/", "", "", true},
		{"missing engine", "flm:///llama2", "", "", true},
		{"no slash at all", "flm://ollama", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %+v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got.EngineID != tt.wantEng || got.Name != tt.wantModel {
				t.Fatalf("Parse(%q) = %+v, want engine=%q model=%q", tt.input, got, tt.wantEng, tt.wantModel)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"flm://ollama/llama2",
		"flm://vllm/meta/llama-3-8b-instruct",
		"flm://lmstudio/qwen2.5-coder-7b",
	}
	for _, in := range inputs {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got.String() != in {
			t.Fatalf("round trip mismatch: Parse(%q).String() = %q", in, got.String())
		}
	}
}
