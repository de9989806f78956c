package keelc

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Preprocessor implements the one piece of the preprocessing stage this
// module owns: GET-file inclusion with cycle detection and //LINE
// directive emission for source mapping (spec.md §1, §4.N). The rest of
// the preprocessor's grammar (macros, conditionals, and anything else the
// original's Preprocessor.cpp/h might support) is out of scope — this is
// GET-inclusion only, grounded directly in that file's process_internal.
type Preprocessor struct {
	IncludePaths []string
}

// NewPreprocessor constructs a preprocessor with the given search path
// list for resolving GET targets that aren't found relative to the
// including file.
func NewPreprocessor(includePaths ...string) *Preprocessor {
	return &Preprocessor{IncludePaths: includePaths}
}

// Process reads rootPath and every file it GETs (recursively), producing
// one concatenated source with //LINE directives marking where each
// fragment came from.
func (p *Preprocessor) Process(rootPath string) (string, error) {
	var out strings.Builder
	stack := make(map[string]bool)
	if err := p.processInternal(rootPath, stack, &out); err != nil {
		return "", errors.Wrap(err, "preprocessor error")
	}
	return out.String(), nil
}

func (p *Preprocessor) processInternal(path string, stack map[string]bool, out *strings.Builder) error {
	canonical, err := filepath.Abs(path)
	if err != nil {
		canonical = path
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	if stack[canonical] {
		var chain strings.Builder
		for p := range stack {
			chain.WriteString("\n  " + p)
		}
		chain.WriteString("\n  " + canonical + " (circular reference)")
		return errors.Errorf("Circular GET dependency detected:%s", chain.String())
	}
	stack[canonical] = true
	defer delete(stack, canonical)

	f, err := os.Open(path)
	if err != nil {
		resolved := p.resolveFilePath(path, "")
		if resolved == "" || resolved == path {
			return errors.Errorf("could not open file: %s", path)
		}
		f, err = os.Open(resolved)
		if err != nil {
			return errors.Errorf("could not open file: %s", path)
		}
		canonical = resolved
	}
	defer f.Close()

	currentDir := filepath.Dir(canonical)

	out.WriteString("//LINE 1 \"" + canonical + "\"\n")

	scanner := bufio.NewScanner(f)
	lineNumber := 1
	for scanner.Scan() {
		line := scanner.Text()
		if isGetDirective(line) {
			includeFile := extractFilename(line)
			if includeFile == "" {
				out.WriteString(line + "\n")
			} else {
				includePath := p.resolveFilePath(includeFile, currentDir)
				if includePath == "" {
					return errors.Errorf("could not resolve include file: %s referenced from %s at line %d",
						includeFile, canonical, lineNumber)
				}
				if err := p.processInternal(includePath, stack, out); err != nil {
					return err
				}
				out.WriteString("//LINE " + itoa(lineNumber+1) + " \"" + canonical + "\"\n")
			}
		} else {
			out.WriteString(line + "\n")
		}
		lineNumber++
	}
	return scanner.Err()
}

// isGetDirective reports whether line (after trimming leading whitespace)
// starts with the case-insensitive keyword GET.
func isGetDirective(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if len(trimmed) < 3 {
		return false
	}
	return strings.EqualFold(trimmed[:3], "GET")
}

// extractFilename pulls the quoted filename out of a GET directive line,
// e.g. `GET "util.k"` -> "util.k".
func extractFilename(line string) string {
	first := strings.IndexByte(line, '"')
	if first < 0 {
		return ""
	}
	last := strings.IndexByte(line[first+1:], '"')
	if last < 0 {
		return ""
	}
	return line[first+1 : first+1+last]
}

// resolveFilePath tries a relative includeFile relative to relativeTo first
// (or as given, when relativeTo is empty), then under each configured
// include path, returning "" if none exist. An absolute includeFile is tried
// as given first.
func (p *Preprocessor) resolveFilePath(includeFile, relativeTo string) string {
	candidates := []string{}
	if relativeTo != "" && !filepath.IsAbs(includeFile) {
		candidates = append(candidates, filepath.Join(relativeTo, includeFile))
	} else {
		candidates = append(candidates, includeFile)
	}
	for _, dir := range p.IncludePaths {
		candidates = append(candidates, filepath.Join(dir, includeFile))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func itoa(n int) string { return intToDec(n) }
