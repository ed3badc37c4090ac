package cuberepo

import "testing"

func TestSystemParamsParseOnce(t *testing.T) {
	t.Setenv(ConfigEnvVar, `{"user":"carol","region":"us-east"}`)
	ResetSystemParams()
	t.Cleanup(ResetSystemParams)

	if got := SystemParam("user"); got != "carol" {
		t.Errorf("user got %q, want carol", got)
	}
	if got := SystemParam("missing"); got != "" {
		t.Errorf("missing key got %q, want empty", got)
	}

	// The map is parsed once; later env changes are not observed.
	t.Setenv(ConfigEnvVar, `{"user":"dave"}`)
	if got := SystemParam("user"); got != "carol" {
		t.Errorf("user got %q after env change, want carol", got)
	}
}

func TestSystemParamsMalformedJSON(t *testing.T) {
	t.Setenv(ConfigEnvVar, `not json`)
	ResetSystemParams()
	t.Cleanup(ResetSystemParams)

	if got := SystemParam("user"); got != "" {
		t.Errorf("malformed config must yield no parameters, got %q", got)
	}
}

func TestEnvLevel(t *testing.T) {
	t.Setenv(EnvLevelVar, "sandbox")
	if got := EnvLevel(); got != "sandbox" {
		t.Errorf("EnvLevel got %q, want sandbox", got)
	}
}
