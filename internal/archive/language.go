package archive

import (
	"path"
	"strings"
)

var languageByExt = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".jsx":  "javascript",
	".tsx":  "typescript",
	".java": "java",
	".cpp":  "cpp",
	".c":    "c",
	".h":    "c",
	".hpp":  "cpp",
	".cs":   "csharp",
	".rb":   "ruby",
	".go":   "go",
	".rs":   "rust",
	".php":  "php",
	".html": "html",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".sql":  "sql",
	".md":   "markdown",
	".json": "json",
	".xml":  "xml",
	".yaml": "yaml",
	".yml":  "yaml",
	".cbl":  "cobol",
	".cob":  "cobol",
	".cpy":  "cobol",
	".jcl":  "jcl",
}

// DetectLanguage maps a file path to a language name by extension. Unknown
// extensions yield "".
func DetectLanguage(p string) string {
	return languageByExt[strings.ToLower(path.Ext(p))]
}
