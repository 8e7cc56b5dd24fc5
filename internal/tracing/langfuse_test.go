package tracing

import "testing"

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantOK   bool
		wantHost string
	}{
		{
			name:   "disabled without keys",
			env:    map[string]string{"LANGFUSE_PUBLIC_KEY": "", "LANGFUSE_SECRET_KEY": ""},
			wantOK: false,
		},
		{
			name:   "disabled with only public key",
			env:    map[string]string{"LANGFUSE_PUBLIC_KEY": "pk", "LANGFUSE_SECRET_KEY": ""},
			wantOK: false,
		},
		{
			name:     "default host",
			env:      map[string]string{"LANGFUSE_PUBLIC_KEY": "pk", "LANGFUSE_SECRET_KEY": "sk", "LANGFUSE_HOST": ""},
			wantOK:   true,
			wantHost: defaultHost,
		},
		{
			name:     "explicit host",
			env:      map[string]string{"LANGFUSE_PUBLIC_KEY": "pk", "LANGFUSE_SECRET_KEY": "sk", "LANGFUSE_HOST": "https://cloud.langfuse.com"},
			wantOK:   true,
			wantHost: "https://cloud.langfuse.com",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, ok := ConfigFromEnv()
			if ok != tc.wantOK {
				t.Fatalf("ConfigFromEnv() ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if cfg.Host != tc.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tc.wantHost)
			}
			if cfg.Name != "noteai" {
				t.Errorf("Name = %q, want noteai", cfg.Name)
			}
		})
	}
}
