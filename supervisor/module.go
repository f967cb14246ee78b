package supervisor

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/mod/module"
)

// Module paths may only contain alphanumerics, hyphens, underscores, dots and slashes.
var safeModulePath = regexp.MustCompile(`^[a-zA-Z0-9\-_./]+$`)

// ValidateModulePath rejects anything that is not syntactically a Go import
// path or a clean relative package path ("./cmd/server"). The check runs
// before any command is built, so a rejected path never reaches the compiler.
func ValidateModulePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModulePath)
	}
	if !safeModulePath.MatchString(p) {
		return fmt.Errorf("%w: %q contains characters outside [a-zA-Z0-9-_./]", ErrInvalidModulePath, p)
	}
	if strings.HasPrefix(p, "-") {
		return fmt.Errorf("%w: %q looks like a flag", ErrInvalidModulePath, p)
	}

	if strings.HasPrefix(p, "./") {
		rel := strings.TrimPrefix(p, "./")
		if rel == "" || path.Clean(rel) != rel || rel == ".." || strings.HasPrefix(rel, "../") {
			return fmt.Errorf("%w: %q is not a clean relative package path", ErrInvalidModulePath, p)
		}
		return checkHiddenElements(p, rel)
	}
	if err := checkHiddenElements(p, p); err != nil {
		return err
	}

	if err := module.CheckImportPath(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModulePath, err)
	}
	return nil
}

// checkHiddenElements rejects path elements the go tool treats as hidden
func checkHiddenElements(orig, p string) error {
	for _, elem := range strings.Split(p, "/") {
		if strings.HasPrefix(elem, ".") {
			return fmt.Errorf("%w: %q has an element starting with a dot", ErrInvalidModulePath, orig)
		}
	}
	return nil
}
