package templates

import "github.com/kiranshivaraju/codereview/pkg/models"

// entry is the canned text for one issue type.
type entry struct {
	title       string
	description string
	fix         string
	practice    string
	benefits    []string
	guidelines  []string
	tools       []models.Tool
	checklist   []string
}

var catalog = map[string]entry{
	"SQL_INJECTION": {
		title:       "SQL Injection Vulnerability",
		description: "User-controlled input is concatenated into a SQL statement, allowing an attacker to alter the query.",
		fix:         "Replace string concatenation with a parameterized query or prepared statement and bind every user-supplied value.",
		practice:    "Use parameterized queries everywhere",
		benefits:    []string{"Prevents query manipulation", "Lets the database cache query plans"},
		guidelines:  []string{"Never build SQL from request data", "Validate input types at the boundary"},
		tools:       []models.Tool{{Name: "sqlmap", Description: "Automated SQL injection testing"}, {Name: "semgrep", Description: "Static detection of tainted SQL"}},
		checklist:   []string{"Are all queries parameterized?", "Is the database user least-privileged?"},
	},
	"XSS": {
		title:       "Cross-Site Scripting (XSS)",
		description: "Untrusted data is written to a page without encoding, allowing script injection in the victim's browser.",
		fix:         "Encode output for its HTML context and use the template engine's auto-escaping instead of raw HTML insertion.",
		practice:    "Context-aware output encoding",
		benefits:    []string{"Blocks script injection", "Keeps rendering logic in templates"},
		guidelines:  []string{"Treat every request value as untrusted", "Set a restrictive Content-Security-Policy"},
		tools:       []models.Tool{{Name: "OWASP ZAP", Description: "Dynamic XSS scanning"}},
		checklist:   []string{"Is output escaped for the right context?", "Is innerHTML or an equivalent avoided?"},
	},
	"HARDCODED_CREDENTIALS": {
		title:       "Hardcoded Credentials",
		description: "A secret is embedded in source code, where anyone with repository access can read it.",
		fix:         "Move the secret to the environment or a secrets manager and rotate the exposed value.",
		practice:    "Load secrets at runtime",
		benefits:    []string{"Secrets can be rotated without a deploy", "Repository access no longer implies secret access"},
		guidelines:  []string{"Never commit secrets", "Scan commits for credentials before merge"},
		tools:       []models.Tool{{Name: "gitleaks", Description: "Secret scanning for git history"}},
		checklist:   []string{"Has the exposed secret been rotated?", "Is the secret read from configuration?"},
	},
	"INSECURE_DESERIALIZATION": {
		title:       "Insecure Deserialization",
		description: "Untrusted data is deserialized into arbitrary types, which can lead to remote code execution.",
		fix:         "Deserialize only into explicit, allow-listed types and reject unexpected input before decoding.",
		practice:    "Use data-only formats with strict schemas",
		guidelines:  []string{"Avoid native object serialization for external input"},
		checklist:   []string{"Is the set of decodable types restricted?"},
	},
	"WEAK_CRYPTOGRAPHY": {
		title:       "Weak Cryptography",
		description: "A broken or weak algorithm (such as MD5, SHA-1 or DES) protects sensitive data.",
		fix:         "Switch to a current algorithm: bcrypt or argon2 for passwords, AES-GCM for encryption, SHA-256 or better for integrity.",
		practice:    "Use vetted cryptographic libraries with safe defaults",
		guidelines:  []string{"Do not implement cryptographic primitives yourself"},
		checklist:   []string{"Are keys and IVs generated from a secure random source?"},
	},
	"PATH_TRAVERSAL": {
		title:       "Path Traversal",
		description: "A file path built from user input can escape the intended directory.",
		fix:         "Resolve the path, then verify it stays under the allowed base directory before opening it.",
		practice:    "Map user input to identifiers, not paths",
		guidelines:  []string{"Reject paths containing .. after cleaning"},
		checklist:   []string{"Is the resolved path checked against the base directory?"},
	},
	"INEFFICIENT_LOOP": {
		title:       "Inefficient Loop",
		description: "The loop repeats work on every iteration that could be done once or avoided.",
		fix:         "Hoist invariant computations out of the loop and replace nested scans with a map lookup.",
		practice:    "Choose data structures for the access pattern",
		benefits:    []string{"Lower CPU time", "More predictable latency"},
		guidelines:  []string{"Profile before and after the change"},
		tools:       []models.Tool{{Name: "pprof", Description: "CPU profiling"}},
		checklist:   []string{"Is any lookup inside the loop linear in input size?"},
	},
	"MEMORY_LEAK": {
		title:       "Memory Leak",
		description: "Resources are retained after use and never released, so memory grows over time.",
		fix:         "Release the resource on every path, bound caches, and remove listeners or references once they are no longer needed.",
		practice:    "Tie resource lifetime to a scope",
		guidelines:  []string{"Bound every cache", "Close what you open"},
		tools:       []models.Tool{{Name: "heap profiler", Description: "Find retained allocations"}},
		checklist:   []string{"Is every opened resource closed on error paths?"},
	},
	"N_PLUS_ONE": {
		title:       "N+1 Query Pattern",
		description: "One query is issued per item of a collection instead of loading the collection at once.",
		fix:         "Load related records in a single batched query or join and index the result in memory.",
		practice:    "Batch data access",
		guidelines:  []string{"Watch query counts per request"},
		checklist:   []string{"Does any loop issue a query per iteration?"},
	},
	"HIGH_COMPLEXITY": {
		title:       "High Cyclomatic Complexity",
		description: "The function has many branches, which makes it hard to test and change safely.",
		fix:         "Extract cohesive branches into well-named helper functions and replace condition chains with lookup tables where possible.",
		practice:    "Keep functions small and single-purpose",
		guidelines:  []string{"Set a complexity limit in the linter"},
		tools:       []models.Tool{{Name: "gocyclo", Description: "Cyclomatic complexity reporting"}},
		checklist:   []string{"Can each branch be tested in isolation?"},
	},
	"CODE_DUPLICATION": {
		title:       "Duplicated Code",
		description: "The same logic appears in several places and must be kept in sync by hand.",
		fix:         "Extract the shared logic into one function and call it from each site.",
		practice:    "Single source of truth for behavior",
		checklist:   []string{"Would a bug fix here need to be repeated elsewhere?"},
	},
	"POOR_NAMING": {
		title:       "Unclear Naming",
		description: "Identifiers do not describe what they hold or do.",
		fix:         "Rename identifiers to describe intent and drop abbreviations that are not established in the codebase.",
		practice:    "Names that read as documentation",
		checklist:   []string{"Would a new reader understand the name without context?"},
	},
	"MISSING_ERROR_HANDLING": {
		title:       "Missing Error Handling",
		description: "An error result is ignored, so failures pass silently.",
		fix:         "Check the error, add context, and return or handle it explicitly.",
		practice:    "Handle every error once",
		checklist:   []string{"Are all error returns checked?"},
	},
}

// aliases map common type spellings onto catalog keys.
var aliases = map[string]string{
	"SQLI":                 "SQL_INJECTION",
	"CROSS_SITE_SCRIPTING": "XSS",
	"HARDCODED_SECRET":     "HARDCODED_CREDENTIALS",
	"HARDCODED_PASSWORD":   "HARDCODED_CREDENTIALS",
	"DESERIALIZATION":      "INSECURE_DESERIALIZATION",
	"WEAK_CRYPTO":          "WEAK_CRYPTOGRAPHY",
	"DIRECTORY_TRAVERSAL":  "PATH_TRAVERSAL",
	"RESOURCE_LEAK":        "MEMORY_LEAK",
	"COMPLEXITY":           "HIGH_COMPLEXITY",
	"DUPLICATION":          "CODE_DUPLICATION",
	"NAMING":               "POOR_NAMING",
	"ERROR_HANDLING":       "MISSING_ERROR_HANDLING",
}

var categoryFallback = map[models.Category]entry{
	models.CategorySecurity: {
		description: "This code may expose the application to a security vulnerability.",
		fix:         "Validate untrusted input, apply least privilege, and use the framework's secure defaults for this operation.",
		practice:    "Secure coding defaults",
		guidelines:  []string{"Treat all external input as untrusted"},
		checklist:   []string{"Is untrusted input validated before use?"},
	},
	models.CategoryPerformance: {
		description: "This code may cause unnecessary CPU, memory or I/O cost.",
		fix:         "Measure the hot path, then remove repeated work and unnecessary allocations.",
		practice:    "Measure before optimizing",
		guidelines:  []string{"Keep a benchmark for hot paths"},
		checklist:   []string{"Is there a benchmark covering this path?"},
	},
	models.CategoryQuality: {
		description: "This code is harder to read or maintain than it needs to be.",
		fix:         "Simplify the code and make intent explicit through naming and structure.",
		practice:    "Readable, conventional code",
		guidelines:  []string{"Follow the project's style guide"},
		checklist:   []string{"Is the intent clear without comments?"},
	},
}
