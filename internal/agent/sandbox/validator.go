package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

const maxCodeLength = 50000

// defaultForbidden rejects process, network and filesystem-destructive calls
// before the code ever reaches the interpreter.
var defaultForbidden = []string{
	// process execution
	`os\.system\s*\(`,
	`subprocess`,
	`os\.popen\s*\(`,
	`os\.exec`,
	`os\.spawn`,
	`os\.fork\s*\(`,
	`os\.kill\s*\(`,
	// file deletion
	`os\.remove\s*\(`,
	`os\.unlink\s*\(`,
	`os\.rmdir\s*\(`,
	`shutil\.rmtree\s*\(`,
	`\.unlink\s*\(`,
	// network
	`requests\.`,
	`urllib`,
	`http\.client`,
	`socket`,
	`ftplib`,
	`smtplib`,
	// dynamic code
	`(^|[^.\w])exec\s*\(`,
	`(^|[^.\w])eval\s*\(`,
	`(^|[^.\w])compile\s*\(`,
	`__import__\s*\(`,
	`importlib`,
	`ctypes`,
	`pickle\.loads`,
	`marshal\.loads`,
	// the harness renders the figure itself
	`fig\.show\s*\(`,
	`\.write_image\s*\(`,
}

// Validator rejects generated code matching forbidden patterns.
type Validator struct {
	patterns []*regexp.Regexp
}

func NewValidator() *Validator {
	v := &Validator{}
	for _, p := range defaultForbidden {
		v.patterns = append(v.patterns, regexp.MustCompile(p))
	}
	return v
}

// AddForbiddenPattern registers an extra pattern.
func (v *Validator) AddForbiddenPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	v.patterns = append(v.patterns, re)
	return nil
}

// Validate returns nil when the code may run.
func (v *Validator) Validate(code string) error {
	if strings.TrimSpace(code) == "" {
		return &ExecError{Message: "ValidationError: the plot code is empty"}
	}
	if len(code) > maxCodeLength {
		return &ExecError{Message: fmt.Sprintf("ValidationError: the plot code exceeds %d bytes", maxCodeLength)}
	}
	var hits []string
	for _, re := range v.patterns {
		if loc := re.FindString(code); loc != "" {
			hits = append(hits, strings.TrimLeft(strings.TrimSpace(loc), "=(,;:"))
		}
	}
	if len(hits) > 0 {
		return &ExecError{Message: "ValidationError: forbidden code: " + strings.Join(hits, ", ")}
	}
	if !strings.Contains(code, "fig") {
		return &ExecError{Message: "ValidationError: the plot code never assigns a variable named fig"}
	}
	return nil
}
