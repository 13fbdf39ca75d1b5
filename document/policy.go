package document

import (
	"fmt"
	"strings"
)

// InvalidPolicy tells a pipeline step what to do with a document that
// fails validation. Decode always fails fast; the policy is applied by
// whoever invokes it.
type InvalidPolicy string

// Supported policies.
const (
	// PolicyReject drops the document and continues with the next one.
	PolicyReject InvalidPolicy = "reject"
	// PolicyPassthrough forwards the document unchanged, without the
	// derived field.
	PolicyPassthrough InvalidPolicy = "passthrough"
	// PolicyFail aborts the whole run.
	PolicyFail InvalidPolicy = "fail"
)

// ParseInvalidPolicy parses a policy name. The empty string selects
// PolicyReject.
func ParseInvalidPolicy(s string) (InvalidPolicy, error) {
	switch p := InvalidPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyPassthrough, PolicyFail:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported invalid policy: %s (valid: reject, passthrough, fail)", s)
	}
}
