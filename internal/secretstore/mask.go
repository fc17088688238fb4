package secretstore

import "regexp"

// MaskedValue is the text Mask substitutes for credential material, mirroring
// pkg/masking's MaskedSecretValue constant for Kubernetes Secret data.
const MaskedValue = "[MASKED_CREDENTIAL]"

// pattern is a single named regex + replacement, the same shape as the
// teacher's masking.CompiledPattern, narrowed here to the closed set of
// credential-shaped strings Mask redacts (bearer tokens, basic-auth
// headers) rather than a configurable registry of server-specific patterns.
type pattern struct {
	name    string
	regex   *regexp.Regexp
	replace string
}

var patterns = []pattern{
	{
		name:    "bearer_token",
		regex:   regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
		replace: "Bearer " + MaskedValue,
	},
	{
		name:    "basic_auth",
		regex:   regexp.MustCompile(`(?i)Basic\s+[A-Za-z0-9+/=]{8,}`),
		replace: "Basic " + MaskedValue,
	},
}

// Mask redacts any bearer/basic credential material found in s, leaving
// everything else untouched. No code outside this package's tests calls it.
func Mask(s string) string {
	for _, p := range patterns {
		s = p.regex.ReplaceAllString(s, p.replace)
	}
	return s
}
