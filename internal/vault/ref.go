package vault

import (
	"fmt"
	"strings"
)

const refScheme = "vault://"

// Ref formats the pointer stored on a stage artifact.
func Ref(runID, stage string) string {
	return refScheme + runID + "/" + stage
}

// ParseRef splits "vault://<run>/<stage>" into its parts.
func ParseRef(ref string) (runID, stage string, err error) {
	rest, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	runID, stage, ok = strings.Cut(rest, "/")
	if !ok || runID == "" || stage == "" || strings.Contains(stage, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return runID, stage, nil
}
