// Command archcheck enforces the dependency direction of the cache packages.
//
// pkg/xmtpcache holds the public contracts and depends on nothing else in the
// module. cachedb stores records without knowing about snapshots, the kernel
// runs configurations without knowing which content types exist, and content
// type modules only see the public contracts. Test imports count as imports.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePrefix = "ex-xmtpcache/"

// boundary forbids packages under importer from importing any of forbidden.
type boundary struct {
	importer  string
	forbidden []string
	reason    string
}

var boundaries = []boundary{
	{
		importer:  "pkg/xmtpcache",
		forbidden: []string{"internal/", "modules/", "cmd/"},
		reason:    "public contracts must stay free of implementation packages",
	},
	{
		importer:  "internal/cachedb",
		forbidden: []string{"internal/kernel", "internal/contenttype", "internal/preview", "modules/"},
		reason:    "the store must not depend on its consumers",
	},
	{
		importer:  "internal/kernel",
		forbidden: []string{"internal/contenttype", "internal/preview", "modules/"},
		reason:    "the kernel runs any configuration and must not name content types",
	},
	{
		importer:  "internal/preview",
		forbidden: []string{"internal/"},
		reason:    "previews render through codecs, not the store",
	},
	{
		importer:  "modules/",
		forbidden: []string{"internal/", "cmd/"},
		reason:    "content type modules build on public contracts only",
	},
}

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "archcheck: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintf(os.Stdout, "archcheck: %d packages respect the cache layering\n", len(packages))
		return
	}

	_, _ = fmt.Fprintf(os.Stdout, "archcheck: %d layering violations:\n", len(violations))
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list module packages: %w", err)
	}

	var packages []listedPackage
	decoder := json.NewDecoder(&stdout)
	for {
		var pkg listedPackage
		err := decoder.Decode(&pkg)
		if errors.Is(err, io.EOF) {
			return packages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode package list: %w", err)
		}
		if strings.HasPrefix(pkg.ImportPath, modulePrefix) {
			packages = append(packages, pkg)
		}
	}
}

// collectViolations returns one sorted line per forbidden module-local import.
func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})
	for _, pkg := range packages {
		importer := localPath(pkg.ImportPath)
		for _, imports := range [][]string{pkg.Imports, pkg.TestImports, pkg.XTestImports} {
			for _, imported := range imports {
				if !strings.HasPrefix(imported, modulePrefix) {
					continue
				}
				rule, ok := violatedBoundary(importer, localPath(imported))
				if !ok {
					continue
				}
				found[fmt.Sprintf("%s imports %s: %s", importer, localPath(imported), rule.reason)] = struct{}{}
			}
		}
	}

	violations := make([]string, 0, len(found))
	for violation := range found {
		violations = append(violations, violation)
	}
	sort.Strings(violations)

	return violations
}

func violatedBoundary(importer, imported string) (boundary, bool) {
	for _, rule := range boundaries {
		if !strings.HasPrefix(importer, rule.importer) {
			continue
		}
		for _, forbidden := range rule.forbidden {
			if strings.HasPrefix(imported, forbidden) {
				return rule, true
			}
		}
	}

	return boundary{}, false
}

// localPath strips the module prefix and the test variant suffix go list adds,
// as in "ex-xmtpcache/internal/kernel [ex-xmtpcache/internal/kernel.test]".
func localPath(importPath string) string {
	path, _, _ := strings.Cut(importPath, " ")
	path = strings.TrimSuffix(path, ".test")

	return strings.TrimPrefix(path, modulePrefix)
}
