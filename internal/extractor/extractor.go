// Package extractor derives a field-usage model from raw SQL text.
//
// Extraction is deliberately pattern-based, not grammar-based: the
// statements come from slow logs of many applications and frequently
// contain constructs a strict parser rejects. Everything here is
// best-effort and degrades to empty sets.
package extractor

import (
	"regexp"
	"strings"

	"sql-advisor/internal/model"
)

// scalarFunctions is the fixed list of functions whose presence around
// a column disables plain index usage in MySQL 5.7.
var scalarFunctions = map[string]bool{
	"lower": true, "upper": true, "substring": true, "concat": true,
	"length": true, "trim": true, "ltrim": true, "rtrim": true,
	"abs": true, "ceil": true, "floor": true, "round": true,
	"mod": true, "rand": true, "now": true, "curdate": true,
	"curtime": true, "date": true, "time": true, "year": true,
	"month": true, "day": true,
}

// sqlKeywords are tokens the condition patterns may capture that are
// never column names.
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "in": true, "like": true, "between": true, "is": true,
	"null": true, "on": true, "using": true, "join": true, "order": true,
	"group": true, "by": true, "limit": true, "exists": true, "as": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
}

var (
	whereClauseRe = regexp.MustCompile(`(?is)\bwhere\s+(.+?)(?:\s+order\s+by\b|\s+group\s+by\b|\s+limit\b|\s+having\b|$)`)
	orderByRe     = regexp.MustCompile(`(?is)\border\s+by\s+(.+?)(?:\s+limit\b|$)`)
	groupByRe     = regexp.MustCompile(`(?is)\bgroup\s+by\s+(.+?)(?:\s+order\s+by\b|\s+limit\b|\s+having\b|$)`)
	fromClauseRe  = regexp.MustCompile(`(?is)\bfrom\s+(.+)$`)
	joinOnRe      = regexp.MustCompile(`(?is)\bjoin\s+\x60?\w+\x60?(?:\s+(?:as\s+)?\w+)?\s+on\s+(.+?)(?:\s+(?:left|right|inner|full|cross)?\s*join\b|\s+where\b|\s+order\b|\s+group\b|\s+limit\b|$)`)
	orSplitRe     = regexp.MustCompile(`(?i)\bor\b`)
	funcFieldRe   = regexp.MustCompile(`\b([A-Za-z_]+)\s*\(\s*([A-Za-z_][\w.]*)\s*\)`)
	plainFieldRe  = regexp.MustCompile(`(?i)\b([A-Za-z_][\w]*(?:\.[A-Za-z_]\w*)?)\s*(?:[=<>!]+|\blike\b|\bin\b|\bis\b|\bbetween\b)`)
	orderItemRe   = regexp.MustCompile(`(?i)^\x60?([A-Za-z_][\w.]*)\x60?`)
	joinEqRe      = regexp.MustCompile(`([\w.]+)\s*=\s*([\w.]+)`)
	tablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)insert\s+into\s+\x60?(\w+)\x60?`),
		regexp.MustCompile(`(?i)update\s+\x60?(\w+)\x60?`),
		regexp.MustCompile(`(?i)delete\s+from\s+\x60?(\w+)\x60?`),
	}
)

// fromStopKeywords terminate the FROM clause when scanning for tables
// and aliases.
var fromStopKeywords = []string{" where ", " group ", " order ", " limit ", " having ", " union ", " except ", " intersect "}

// FieldExtractor implements model.Extractor with regexp heuristics.
type FieldExtractor struct {
	policy model.Policy
}

func New(policy model.Policy) *FieldExtractor {
	if policy.CompositeCap <= 0 {
		policy = model.DefaultPolicy()
	}
	return &FieldExtractor{policy: policy}
}

// Extract builds the FieldSet for one statement. It never fails; a
// statement with no recognizable clauses yields empty sets, which
// callers must treat as "query lacks filter predicates".
func (e *FieldExtractor) Extract(sql string) model.FieldSet {
	fs := model.FieldSet{Aliases: map[string]string{}}
	sql = normalize(sql)
	if sql == "" {
		return fs
	}

	fs.Aliases = extractAliases(sql)
	fs.Table = extractTable(sql, fs.Aliases)
	fs.Where = e.extractWhere(sql, fs)
	fs.Join = e.extractJoin(sql, fs)
	fs.OrderBy = e.extractListClause(sql, orderByRe, model.UsageOrderBy, fs)
	fs.GroupBy = e.extractListClause(sql, groupByRe, model.UsageGroupBy, fs)
	return fs
}

func normalize(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return strings.Join(strings.Fields(sql), " ")
}

// extractWhere splits the WHERE clause on OR. Conditions before the
// first OR are AND-conjoined and take priority; OR-branch fields are
// appended only while the set is under the cap, with the configured
// priority column promoted first. The ordering is tuned policy, not a
// guarantee of SQL semantics.
func (e *FieldExtractor) extractWhere(sql string, fs model.FieldSet) []model.FieldUsage {
	m := whereClauseRe.FindStringSubmatch(sql)
	if m == nil {
		return nil
	}
	parts := orSplitRe.Split(m[1], -1)

	var andFields, orFields []model.FieldUsage
	seen := map[string]bool{}
	appendUnique := func(dst []model.FieldUsage, fields []model.FieldUsage) []model.FieldUsage {
		for _, f := range fields {
			key := strings.ToLower(f.Column)
			if f.WrappedInFunction {
				key = strings.ToLower(f.FunctionName) + "(" + key + ")"
			}
			if !seen[key] {
				seen[key] = true
				dst = append(dst, f)
			}
		}
		return dst
	}
	for i, part := range parts {
		fields := e.fieldsFromCondition(part, model.UsageWhere, fs)
		if i == 0 {
			andFields = appendUnique(andFields, fields)
		} else {
			orFields = appendUnique(orFields, fields)
		}
	}

	limit := e.policy.CompositeCap
	if len(andFields) >= limit {
		return andFields[:limit]
	}
	// Promote the priority column among the OR candidates before
	// topping up to the cap.
	var promoted []model.FieldUsage
	var rest []model.FieldUsage
	for _, f := range orFields {
		if strings.EqualFold(f.Column, e.policy.PriorityColumn) && !f.WrappedInFunction {
			promoted = append(promoted, f)
		} else {
			rest = append(rest, f)
		}
	}
	promoted = append(promoted, rest...)
	need := limit - len(andFields)
	if need > len(promoted) {
		need = len(promoted)
	}
	return append(andFields, promoted[:need]...)
}

// fieldsFromCondition pulls column references out of one conjunction of
// predicates. Function-wrapped columns are matched first so they are
// not double-counted as plain fields.
func (e *FieldExtractor) fieldsFromCondition(cond string, kind model.UsageKind, fs model.FieldSet) []model.FieldUsage {
	var fields []model.FieldUsage
	wrapped := map[string]bool{}

	for _, m := range funcFieldRe.FindAllStringSubmatch(cond, -1) {
		fn := strings.ToLower(m[1])
		if !scalarFunctions[fn] {
			continue
		}
		f := qualify(m[2], fs)
		f.Kind = kind
		f.WrappedInFunction = true
		f.FunctionName = fn
		fields = append(fields, f)
		wrapped[strings.ToLower(f.Column)] = true
	}

	for _, m := range plainFieldRe.FindAllStringSubmatch(cond, -1) {
		name := m[1]
		bare := name
		if i := strings.LastIndex(bare, "."); i >= 0 {
			bare = bare[i+1:]
		}
		if sqlKeywords[strings.ToLower(bare)] || wrapped[strings.ToLower(bare)] {
			continue
		}
		f := qualify(name, fs)
		f.Kind = kind
		fields = append(fields, f)
	}
	return fields
}

func (e *FieldExtractor) extractJoin(sql string, fs model.FieldSet) []model.FieldUsage {
	var fields []model.FieldUsage
	seen := map[string]bool{}
	for _, on := range joinOnRe.FindAllStringSubmatch(sql, -1) {
		for _, eq := range joinEqRe.FindAllStringSubmatch(on[1], -1) {
			for _, side := range []string{eq[1], eq[2]} {
				f := qualify(side, fs)
				if sqlKeywords[strings.ToLower(f.Column)] {
					continue
				}
				f.Kind = model.UsageJoin
				key := strings.ToLower(f.TableAlias + "." + f.Column)
				if !seen[key] {
					seen[key] = true
					fields = append(fields, f)
				}
			}
		}
	}
	return fields
}

func (e *FieldExtractor) extractListClause(sql string, re *regexp.Regexp, kind model.UsageKind, fs model.FieldSet) []model.FieldUsage {
	m := re.FindStringSubmatch(sql)
	if m == nil {
		return nil
	}
	var fields []model.FieldUsage
	seen := map[string]bool{}
	for _, item := range strings.Split(m[1], ",") {
		item = strings.TrimSpace(item)
		im := orderItemRe.FindStringSubmatch(item)
		if im == nil {
			continue
		}
		name := im[1]
		bare := strings.ToLower(name)
		if i := strings.LastIndex(bare, "."); i >= 0 {
			bare = bare[i+1:]
		}
		if sqlKeywords[bare] || seen[bare] {
			continue
		}
		seen[bare] = true
		f := qualify(name, fs)
		f.Kind = kind
		fields = append(fields, f)
	}
	return fields
}

// qualify resolves a possibly table-qualified reference through the
// alias map.
func qualify(name string, fs model.FieldSet) model.FieldUsage {
	f := model.FieldUsage{Column: name}
	if i := strings.LastIndex(name, "."); i >= 0 {
		f.TableAlias = strings.Trim(name[:i], "`")
		f.Column = strings.Trim(name[i+1:], "`")
	} else {
		f.Column = strings.Trim(name, "`")
	}
	if f.TableAlias != "" {
		if t, ok := fs.Aliases[f.TableAlias]; ok {
			f.ResolvedTable = t
		} else {
			f.ResolvedTable = f.TableAlias
		}
	} else {
		f.ResolvedTable = fs.Table
	}
	return f
}

// extractAliases builds the alias map from the FROM clause: within each
// comma/JOIN-separated segment the token after the table name is its
// alias unless it is ON or USING.
func extractAliases(sql string) map[string]string {
	aliases := map[string]string{}
	m := fromClauseRe.FindStringSubmatch(sql)
	if m == nil {
		return aliases
	}
	clause := m[1]
	upper := strings.ToUpper(clause)
	stop := len(clause)
	for _, kw := range fromStopKeywords {
		if i := strings.Index(upper, strings.ToUpper(kw)); i >= 0 && i < stop {
			stop = i
		}
	}
	clause = clause[:stop]

	segRe := regexp.MustCompile(`(?i),|\bjoin\b|\bleft\b|\bright\b|\binner\b|\bouter\b|\bfull\b|\bcross\b`)
	for _, seg := range segRe.Split(clause, -1) {
		tokens := strings.Fields(strings.TrimSpace(seg))
		if len(tokens) == 0 {
			continue
		}
		table := strings.Trim(tokens[0], "`")
		if table == "" || strings.HasPrefix(table, "(") {
			continue
		}
		alias := table
		if len(tokens) >= 2 {
			next := tokens[1]
			if strings.EqualFold(next, "as") && len(tokens) >= 3 {
				next = tokens[2]
			}
			if u := strings.ToUpper(next); u != "ON" && u != "USING" {
				alias = strings.Trim(next, "`")
			}
		}
		aliases[alias] = table
	}
	return aliases
}

// extractTable picks the primary table: first FROM segment, with
// INSERT/UPDATE/DELETE patterns as fallback.
func extractTable(sql string, aliases map[string]string) string {
	m := fromClauseRe.FindStringSubmatch(sql)
	if m != nil {
		clause := m[1]
		upper := strings.ToUpper(clause)
		stop := len(clause)
		for _, kw := range fromStopKeywords {
			if i := strings.Index(upper, strings.ToUpper(kw)); i >= 0 && i < stop {
				stop = i
			}
		}
		clause = strings.TrimSpace(clause[:stop])
		first := regexp.MustCompile(`(?i),|\bjoin\b|\bleft\b|\bright\b|\binner\b|\bouter\b`).Split(clause, 2)[0]
		tokens := strings.Fields(strings.TrimSpace(first))
		if len(tokens) > 0 {
			t := strings.Trim(tokens[0], "`")
			if t != "" && !strings.HasPrefix(t, "(") && !sqlKeywords[strings.ToLower(t)] {
				return t
			}
		}
	}
	for _, re := range tablePatterns {
		if m := re.FindStringSubmatch(sql); m != nil {
			return m[1]
		}
	}
	return ""
}
