// Package discovery finds the candidates a request may touch and classifies
// every one of them through the three-way certainty gate. The filter stage is
// pure string matching over paths; the analysis stage is semantic and goes
// through the language model for every candidate, never by file kind alone.
package discovery

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"planwright/internal/logging"
	"planwright/internal/plan"
)

// skipDirs are never scanned.
var skipDirs = map[string]bool{
	".git":         true,
	".planwright":  true,
	"node_modules": true,
	"vendor":       true,
}

// kindByExtension maps file extensions to candidate kinds. Anything unlisted
// is classified by path heuristics in kindOf.
var kindByExtension = map[string]string{
	".go":    "source",
	".py":    "source",
	".js":    "source",
	".ts":    "source",
	".rs":    "source",
	".java":  "source",
	".c":     "source",
	".h":     "source",
	".sql":   "schema",
	".proto": "schema",
	".yaml":  "config",
	".yml":   "config",
	".toml":  "config",
	".json":  "config",
	".ini":   "config",
	".env":   "config",
	".md":    "doc",
	".rst":   "doc",
	".txt":   "doc",
}

// Scan walks the workspace and returns the candidate inventory, sorted by
// path. The scan runs once per planning run; candidates are read-only after.
func Scan(root string) ([]plan.Candidate, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "Scan")
	defer timer.Stop()

	var candidates []plan.Candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		candidates = append(candidates, plan.Candidate{
			Path:    rel,
			Kind:    kindOf(rel),
			Excerpt: readExcerpt(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	logging.Discovery("scanned %s: %d candidates", root, len(candidates))
	return candidates, nil
}

// excerptLimit bounds how much of a file travels with its candidate. The
// excerpt exists so classification can cite content; it is not a full read.
const excerptLimit = 1536

// readExcerpt returns the head of the file, or empty for binary or unreadable
// files.
func readExcerpt(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, excerptLimit)
	n, _ := f.Read(buf)
	if n <= 0 {
		return ""
	}
	buf = buf[:n]
	if bytes.IndexByte(buf, 0) >= 0 {
		return ""
	}
	return strings.TrimRight(string(buf), "\n")
}

func kindOf(path string) string {
	base := filepath.Base(path)
	if strings.HasSuffix(base, "_test.go") || strings.Contains(path, "/test/") ||
		strings.HasPrefix(base, "test_") {
		return "test"
	}
	if kind, ok := kindByExtension[filepath.Ext(base)]; ok {
		return kind
	}
	return "other"
}

// Filter narrows candidates by path selectors: a candidate survives when any
// selector is a substring of its path (case-insensitive). No selectors means
// no narrowing. This stage is purely mechanical; it must never make semantic
// include/exclude judgments.
func Filter(candidates []plan.Candidate, selectors []string) []plan.Candidate {
	if len(selectors) == 0 {
		return candidates
	}
	var out []plan.Candidate
	for _, c := range candidates {
		lower := strings.ToLower(c.Path)
		for _, sel := range selectors {
			if sel != "" && strings.Contains(lower, strings.ToLower(sel)) {
				out = append(out, c)
				break
			}
		}
	}
	logging.Discovery("filter: %d of %d candidates match %v", len(out), len(candidates), selectors)
	return out
}

// Bundle partitions candidates into fixed-size analysis bundles. Partitioning
// is positional; bundle identity only matters for audit and retry attribution.
func Bundle(candidates []plan.Candidate, size int) [][]plan.Candidate {
	if size <= 0 {
		size = 20
	}
	var bundles [][]plan.Candidate
	for start := 0; start < len(candidates); start += size {
		end := start + size
		if end > len(candidates) {
			end = len(candidates)
		}
		bundles = append(bundles, candidates[start:end])
	}
	return bundles
}
