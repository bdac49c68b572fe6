// Package rules implements the stateless-after-load rules engine: an
// ordered CSV of (path_regex, mime_glob, category_template, folder_action,
// mode) rows compiled once and evaluated against (path, mime) pairs.
package rules

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/model"
)

// Engine evaluates compiled rules against (path, mime) pairs. Immutable
// after Load.
type Engine struct {
	rules      []model.Rule
	categories map[string]bool
	sampleN    int
}

// Match is the result of evaluating a single rule against a (path, mime)
// pair: the rule itself and its named captures.
type Match struct {
	Rule     *model.Rule
	Captures map[string]string
}

// New creates an empty Engine with the given folder-hint sample size.
func New(sampleN int) *Engine {
	if sampleN <= 0 {
		sampleN = 48
	}
	return &Engine{sampleN: sampleN}
}

// LoadCategories reads the categories file (one legal category-path prefix
// per line, '#' comments, blank lines ignored) and installs it as the
// Engine's validation set.
func (e *Engine) LoadCategories(r io.Reader) error {
	cats := map[string]bool{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cats[strings.TrimSuffix(line, "/")] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading categories file: %v", common.ErrConfig, err)
	}
	e.categories = cats
	return nil
}

// LoadCategoriesFile is a convenience wrapper around LoadCategories for a
// path on disk.
func (e *Engine) LoadCategoriesFile(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: opening categories file %s: %v", common.ErrConfig, p, err)
	}
	defer func() { _ = f.Close() }()
	return e.LoadCategories(f)
}

// IsLegalCategory reports whether target's path matches a declared
// category-path prefix. Returns true unconditionally if no categories
// file was loaded. The Planner does not call it, so plan targets are
// not checked against the declared categories.
func (e *Engine) IsLegalCategory(target string) bool {
	if len(e.categories) == 0 {
		return true
	}
	target = strings.TrimSuffix(target, "/")
	for prefix := range e.categories {
		if target == prefix || strings.HasPrefix(target, prefix+"/") {
			return true
		}
	}
	return false
}

// Load reads an ordered, header-less CSV of rules from r. Compilation
// fails fast on malformed regex or an unknown action/mode; a duplicate
// rule that can never be reached is only warned about, since evaluation
// is strictly first-match-wins.
func (e *Engine) Load(r io.Reader) error {
	cr := csv.NewReader(stripComments(r))
	cr.FieldsPerRecord = -1

	var compiled []model.Rule
	idx := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: rules file CSV parse error: %v", common.ErrConfig, err)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		for len(row) < 5 {
			row = append(row, "")
		}
		pathPat := strings.TrimSpace(row[0])
		mimeGlob := strings.TrimSpace(row[1])
		categoryTemplate := strings.TrimSpace(row[2])
		actionRaw := strings.TrimSpace(row[3])
		modeRaw := strings.TrimSpace(row[4])

		if categoryTemplate == "" {
			return fmt.Errorf("%w: rule %d: missing category template", common.ErrConfig, idx)
		}

		var re *regexp.Regexp
		if pathPat != "" && pathPat != "*" {
			compiledRe, err := regexp.Compile(pathPat)
			if err != nil {
				return fmt.Errorf("%w: rule %d: invalid path regex %q: %v", common.ErrConfig, idx, pathPat, err)
			}
			re = compiledRe
		}

		action, ok := model.ParseFolderAction(actionRaw)
		if actionRaw != "" && !ok {
			return fmt.Errorf("%w: rule %d: unknown folder_action %q", common.ErrConfig, idx, actionRaw)
		}

		if modeRaw == "" {
			modeRaw = "final"
		}
		mode, ok := model.ParseRuleMode(modeRaw)
		if !ok {
			return fmt.Errorf("%w: rule %d: unknown mode %q", common.ErrConfig, idx, modeRaw)
		}

		compiled = append(compiled, model.Rule{
			PathRegex:        re,
			PathPattern:      pathPat,
			MimeGlob:         mimeGlob,
			CategoryTemplate: categoryTemplate,
			FolderAction:     action,
			Mode:             mode,
			Index:            idx,
		})
		idx++
	}

	e.warnUnreachable(compiled)
	e.rules = compiled
	return nil
}

// LoadFile is a convenience wrapper around Load for a path on disk.
func (e *Engine) LoadFile(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: opening rules file %s: %v", common.ErrConfig, p, err)
	}
	defer func() { _ = f.Close() }()
	return e.Load(f)
}

// warnUnreachable logs (does not fail) rules whose path pattern and mime
// glob exactly repeat those of an earlier rule, matching the
// spec's "reject unreachable duplicates only by warning" note.
func (e *Engine) warnUnreachable(rules []model.Rule) {
	seen := map[string]int{}
	for i, r := range rules {
		key := r.PathPattern + "\x00" + r.MimeGlob
		if first, ok := seen[key]; ok {
			common.LogInfo("rule_unreachable_duplicate", common.Fields{
				"rule_index":  i,
				"shadowed_by": first,
				"path":        r.PathPattern,
				"mime":        r.MimeGlob,
			})
			continue
		}
		seen[key] = i
	}
}

// MatchFile evaluates a single (path, mime) pair against the rules in
// order, first match wins. Returns nil, nil on no match — the caller
// applies the Other/Unsorted default.
func (e *Engine) MatchFile(filePath, mime string) (*Match, error) {
	for i := range e.rules {
		r := &e.rules[i]
		if !pathMatches(r, filePath) {
			continue
		}
		if !mimeMatches(r.MimeGlob, mime) {
			continue
		}
		captures := extractCaptures(r, filePath)
		return &Match{Rule: r, Captures: captures}, nil
	}
	return nil, nil
}

// MatchFolder evaluates a folder-level rule: a rule whose regex matches
// the folder path itself (mime is ignored, matched as "*").
func (e *Engine) MatchFolder(folderPath string) (*Match, error) {
	for i := range e.rules {
		r := &e.rules[i]
		if !pathMatches(r, folderPath) {
			continue
		}
		captures := extractCaptures(r, folderPath)
		return &Match{Rule: r, Captures: captures}, nil
	}
	return nil, nil
}

// CategoryFor resolves a rule's category template against a match's
// captures (plus the reserved category/subcategory override names).
// Returns an error if a named capture group in the template cannot be
// resolved from the match's metadata. MatchFile and MatchFolder still
// return that first match; later rules are not tried, and the Classifier
// Chain assigns the Other/Unsorted default category to the file instead.
func CategoryFor(m *Match) (string, error) {
	tmpl := m.Rule.CategoryTemplate
	if override, ok := m.Captures["category"]; ok && override != "" {
		tmpl = override
		if sub, ok := m.Captures["subcategory"]; ok && sub != "" {
			tmpl = path.Join(tmpl, sub)
		}
	}

	result := tmpl
	for _, name := range placeholderNames(tmpl) {
		val, ok := m.Captures[name]
		if !ok || val == "" {
			return "", fmt.Errorf("capture group %q referenced in template %q was not resolved", name, tmpl)
		}
		result = strings.ReplaceAll(result, "{"+name+"}", val)
	}
	return result, nil
}

func placeholderNames(tmpl string) []string {
	var names []string
	for {
		start := strings.IndexByte(tmpl, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(tmpl[start:], '}')
		if end < 0 {
			break
		}
		names = append(names, tmpl[start+1:start+end])
		tmpl = tmpl[start+end+1:]
	}
	return names
}

func pathMatches(r *model.Rule, p string) bool {
	if r.PathRegex == nil {
		return true
	}
	return r.PathRegex.MatchString(p)
}

// mimeMatches implements the shell-style MIME glob: "*" matches anything,
// "type/*" matches a MIME family, otherwise exact match.
func mimeMatches(glob, mime string) bool {
	glob = strings.TrimSpace(glob)
	if glob == "" || glob == "*" {
		return true
	}
	if strings.HasSuffix(glob, "/*") {
		family := strings.TrimSuffix(glob, "/*")
		return strings.HasPrefix(mime, family+"/")
	}
	return glob == mime
}

func extractCaptures(r *model.Rule, p string) map[string]string {
	if r.PathRegex == nil {
		return nil
	}
	sub := r.PathRegex.FindStringSubmatch(p)
	if sub == nil {
		return nil
	}
	names := r.PathRegex.SubexpNames()
	out := make(map[string]string, len(names))
	for i, name := range names {
		if name == "" || i >= len(sub) {
			continue
		}
		out[name] = sub[i]
	}
	return out
}

// stripComments wraps r in a reader that drops '#'-prefixed comment lines
// and blank lines before the CSV reader sees them, so the rules file can
// carry '#' comments the encoding/csv package has no native concept of.
func stripComments(r io.Reader) io.Reader {
	scanner := bufio.NewScanner(r)
	var kept []string
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.NewReader(strings.Join(kept, "\n"))
}

// SortedRuleIndices returns rule indices sorted ascending, used by tests
// asserting the minimum-index match property from spec.md section 8.
func (e *Engine) SortedRuleIndices() []int {
	idxs := make([]int, len(e.rules))
	for i := range e.rules {
		idxs[i] = e.rules[i].Index
	}
	sort.Ints(idxs)
	return idxs
}

// Rules exposes the compiled rule set for read-only use.
func (e *Engine) Rules() []model.Rule {
	return e.rules
}
