// Package scan detects conventions in a target codebase: naming style,
// state-management and node patterns, test tooling, import style, and
// frameworks in use. Workflow drafters feed the result into prompts so
// generated designs match the code they will land in.
package scan

import (
	"regexp"
	"sort"
	"strings"
)

// Analysis is the outcome of scanning a set of source files.
type Analysis struct {
	NamingConvention string `json:"naming_convention"`
	StatePattern     string `json:"state_pattern"`
	NodePattern      string `json:"node_pattern"`
	TestPattern      string `json:"test_pattern"`
	ImportStyle      string `json:"import_style"`
}

const unknown = "unknown"

// frameworkMap maps dependency names to display names.
var frameworkMap = map[string]string{
	"langgraph":        "LangGraph",
	"langchain":        "LangChain",
	"langchain-core":   "LangChain Core",
	"langchain-openai": "LangChain OpenAI",
	"langsmith":        "LangSmith",
	"fastapi":          "FastAPI",
	"flask":            "Flask",
	"django":           "Django",
	"pytest":           "pytest",
	"unittest":         "unittest",
	"pydantic":         "Pydantic",
	"sqlalchemy":       "SQLAlchemy",
	"alembic":          "Alembic",
	"celery":           "Celery",
	"redis":            "Redis",
	"httpx":            "httpx",
	"requests":         "Requests",
	"aiohttp":          "aiohttp",
	"starlette":        "Starlette",
	"uvicorn":          "Uvicorn",
	"click":            "Click",
	"typer":            "Typer",
	"rich":             "Rich",
	"numpy":            "NumPy",
	"pandas":           "pandas",
	"scipy":            "SciPy",
	"torch":            "PyTorch",
	"tensorflow":       "TensorFlow",
	"streamlit":        "Streamlit",
	"gradio":           "Gradio",
}

// importModuleMap maps import module names to display names. Module names
// use underscores where package names use hyphens.
var importModuleMap = map[string]string{
	"langgraph":        "LangGraph",
	"langchain":        "LangChain",
	"langchain_core":   "LangChain Core",
	"langchain_openai": "LangChain OpenAI",
	"langsmith":        "LangSmith",
	"fastapi":          "FastAPI",
	"flask":            "Flask",
	"django":           "Django",
	"pytest":           "pytest",
	"unittest":         "unittest",
	"pydantic":         "Pydantic",
	"sqlalchemy":       "SQLAlchemy",
	"alembic":          "Alembic",
	"celery":           "Celery",
	"redis":            "Redis",
	"httpx":            "httpx",
	"requests":         "Requests",
	"aiohttp":          "aiohttp",
	"starlette":        "Starlette",
	"uvicorn":          "Uvicorn",
	"click":            "Click",
	"typer":            "Typer",
	"rich":             "Rich",
	"numpy":            "NumPy",
	"pandas":           "pandas",
	"scipy":            "SciPy",
	"torch":            "PyTorch",
	"tensorflow":       "TensorFlow",
	"streamlit":        "Streamlit",
	"gradio":           "Gradio",
}

var (
	snakeName     = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	pascalName    = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	classDef      = regexp.MustCompile(`class\s+(\w+)`)
	funcDef       = regexp.MustCompile(`def\s+(\w+)`)
	typedDictUse  = regexp.MustCompile(`from\s+typing(?:_extensions)?\s+import\s+.*\bTypedDict\b|class\s+\w+\(TypedDict\)`)
	dataclassUse  = regexp.MustCompile(`from\s+dataclasses\s+import\s+.*\bdataclass\b|@dataclass`)
	baseModelUse  = regexp.MustCompile(`from\s+pydantic\s+import\s+.*\bBaseModel\b|class\s+\w+\(BaseModel\)`)
	dictReturnDef = regexp.MustCompile(`def\s+\w+\([^)]*\)\s*->\s*dict`)
	stateParamDef = regexp.MustCompile(`def\s+\w+\(\s*state\s*:`)
	pytestUse     = regexp.MustCompile(`import\s+pytest|from\s+pytest\s+import|@pytest\.`)
	unittestUse   = regexp.MustCompile(`import\s+unittest|from\s+unittest\s+import|class\s+\w+\(.*TestCase.*\)`)
	testFuncDef   = regexp.MustCompile(`def\s+(test_\w+)`)
	absoluteImp   = regexp.MustCompile(`(?m)^from\s+[a-zA-Z]\w*(?:\.\w+)*\s+import`)
	relativeImp   = regexp.MustCompile(`(?m)^from\s+\.+\w*\s+import`)
	mdHeading     = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	bulletItem    = regexp.MustCompile(`^[-*+]\s+(.+)$`)
	numberedItem  = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)
	rulesBlock    = regexp.MustCompile("(?is)```(?:rules?|conventions?|constraints?)\\s*\\n(.*?)```")
)

var conventionHeaderKeywords = []string{
	"convention", "rule", "standard", "constraint",
	"style", "guideline", "requirement", "policy",
}

// ScanPatterns analyzes file contents keyed by path. Undetectable fields
// come back as "unknown".
func ScanPatterns(files map[string]string) Analysis {
	a := Analysis{
		NamingConvention: unknown,
		StatePattern:     unknown,
		NodePattern:      unknown,
		TestPattern:      unknown,
		ImportStyle:      unknown,
	}
	if len(files) == 0 {
		return a
	}

	all := joinContents(files)
	a.NamingConvention = detectNaming(files)
	a.StatePattern = detectStatePattern(all)
	a.NodePattern = detectNodePattern(all)
	a.TestPattern = detectTestPattern(files, all)
	a.ImportStyle = detectImportStyle(files)
	return a
}

func joinContents(files map[string]string) string {
	var b strings.Builder
	for _, content := range files {
		b.WriteString(content)
		b.WriteByte('\n')
	}
	return b.String()
}

// detectNaming checks filenames and definitions against a majority vote
// per dimension.
func detectNaming(files map[string]string) string {
	var conventions []string

	snakeFiles, pyFiles := 0, 0
	for path := range files {
		name := path
		if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
			name = path[i+1:]
		}
		if !strings.HasSuffix(name, ".py") {
			continue
		}
		pyFiles++
		if snakeName.MatchString(strings.TrimSuffix(name, ".py")) {
			snakeFiles++
		}
	}
	if pyFiles > 0 && snakeFiles*2 >= pyFiles {
		conventions = append(conventions, "snake_case modules")
	}

	pascalClasses, totalClasses := 0, 0
	snakeFuncs, totalFuncs := 0, 0
	for _, content := range files {
		for _, m := range classDef.FindAllStringSubmatch(content, -1) {
			totalClasses++
			if pascalName.MatchString(m[1]) {
				pascalClasses++
			}
		}
		for _, m := range funcDef.FindAllStringSubmatch(content, -1) {
			name := strings.TrimLeft(m[1], "_")
			if name == "" {
				continue
			}
			totalFuncs++
			if snakeName.MatchString(name) {
				snakeFuncs++
			}
		}
	}
	if totalClasses > 0 && pascalClasses*2 >= totalClasses {
		conventions = append(conventions, "PascalCase classes")
	}
	if totalFuncs > 0 && snakeFuncs*2 >= totalFuncs {
		conventions = append(conventions, "snake_case functions")
	}

	if len(conventions) == 0 {
		return unknown
	}
	return strings.Join(conventions, ", ")
}

func detectStatePattern(all string) string {
	var patterns []string
	if typedDictUse.MatchString(all) {
		patterns = append(patterns, "TypedDict")
	}
	if dataclassUse.MatchString(all) {
		patterns = append(patterns, "dataclass")
	}
	if baseModelUse.MatchString(all) {
		patterns = append(patterns, "BaseModel")
	}

	if len(patterns) > 0 && patterns[0] == "TypedDict" &&
		strings.Contains(strings.ToLower(all), "langgraph") {
		return "TypedDict-based LangGraph state"
	}
	if len(patterns) == 0 {
		return unknown
	}
	return strings.Join(patterns, ", ") + "-based state"
}

func detectNodePattern(all string) string {
	if dictReturnDef.MatchString(all) {
		return "functions returning dict updates"
	}
	if stateParamDef.MatchString(all) {
		return "state-based node functions"
	}
	return unknown
}

func detectTestPattern(files map[string]string, all string) string {
	var patterns []string
	if pytestUse.MatchString(all) {
		patterns = append(patterns, "pytest")
	}
	for path := range files {
		if strings.Contains(path, "conftest") {
			patterns = append(patterns, "fixtures in conftest.py")
			break
		}
	}
	if unittestUse.MatchString(all) && (len(patterns) == 0 || patterns[0] != "pytest") {
		patterns = append(patterns, "unittest")
	}
	if len(patterns) == 0 && testFuncDef.MatchString(all) {
		patterns = append(patterns, "pytest-style test functions")
	}

	if len(patterns) == 0 {
		return unknown
	}
	return strings.Join(patterns, " with ")
}

func detectImportStyle(files map[string]string) string {
	absolute, relative := 0, 0
	for _, content := range files {
		absolute += len(absoluteImp.FindAllString(content, -1))
		relative += len(relativeImp.FindAllString(content, -1))
	}

	switch {
	case absolute+relative == 0:
		return unknown
	case absolute > relative && relative == 0:
		return "absolute imports from package root"
	case absolute > relative:
		return "primarily absolute imports"
	case relative > absolute && absolute == 0:
		return "relative imports"
	case relative > absolute:
		return "primarily relative imports"
	default:
		return "mixed absolute and relative imports"
	}
}

// DetectFrameworks identifies frameworks from dependency names and import
// statements, returning sorted display names.
func DetectFrameworks(deps []string, files map[string]string) []string {
	detected := make(map[string]bool)

	for _, dep := range deps {
		if display, ok := frameworkMap[strings.ToLower(strings.TrimSpace(dep))]; ok {
			detected[display] = true
		}
	}

	all := joinContents(files)
	for module, display := range importModuleMap {
		if detected[display] {
			continue
		}
		pattern := regexp.MustCompile(
			`(?m)(?:^import\s+` + regexp.QuoteMeta(module) + `\b|^from\s+` + regexp.QuoteMeta(module) + `\b)`)
		if pattern.MatchString(all) {
			detected[display] = true
		}
	}

	out := make([]string, 0, len(detected))
	for name := range detected {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExtractConventions parses a contributor-guide markdown file and returns
// the rules listed under convention-flavored headings, plus any fenced
// blocks labeled rules/conventions/constraints. Order preserved, deduped.
func ExtractConventions(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var conventions []string
	inSection := false
	sectionLevel := 0

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if m := mdHeading.FindStringSubmatch(stripped); m != nil {
			level := len(m[1])
			header := strings.ToLower(m[2])
			isConvention := false
			for _, kw := range conventionHeaderKeywords {
				if strings.Contains(header, kw) {
					isConvention = true
					break
				}
			}
			if isConvention {
				inSection = true
				sectionLevel = level
			} else if inSection && level <= sectionLevel {
				inSection = false
			}
			continue
		}

		if !inSection || stripped == "" {
			continue
		}
		if m := bulletItem.FindStringSubmatch(stripped); m != nil {
			if text := strings.TrimSpace(m[1]); len(text) > 3 {
				conventions = append(conventions, text)
			}
		} else if m := numberedItem.FindStringSubmatch(stripped); m != nil {
			if text := strings.TrimSpace(m[1]); len(text) > 3 {
				conventions = append(conventions, text)
			}
		}
	}

	for _, m := range rulesBlock.FindAllStringSubmatch(content, -1) {
		for _, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
			line = strings.TrimSpace(line)
			line = bulletItem.ReplaceAllString(line, "$1")
			line = numberedItem.ReplaceAllString(line, "$1")
			if len(line) > 3 {
				conventions = append(conventions, line)
			}
		}
	}

	seen := make(map[string]bool, len(conventions))
	var unique []string
	for _, c := range conventions {
		if !seen[c] {
			seen[c] = true
			unique = append(unique, c)
		}
	}
	return unique
}
