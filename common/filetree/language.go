package filetree

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var extensionLanguages = map[string]string{
	".ts":      "typescript",
	".tsx":     "typescriptreact",
	".js":      "javascript",
	".jsx":     "javascriptreact",
	".mjs":     "javascript",
	".cjs":     "javascript",
	".json":    "json",
	".css":     "css",
	".scss":    "scss",
	".sass":    "sass",
	".less":    "less",
	".html":    "html",
	".htm":     "html",
	".md":      "markdown",
	".mdx":     "mdx",
	".yml":     "yaml",
	".yaml":    "yaml",
	".toml":    "toml",
	".xml":     "xml",
	".svg":     "xml",
	".py":      "python",
	".go":      "go",
	".rs":      "rust",
	".java":    "java",
	".rb":      "ruby",
	".php":     "php",
	".sql":     "sql",
	".sh":      "shell",
	".vue":     "vue",
	".svelte":  "svelte",
	".prisma":  "prisma",
	".graphql": "graphql",
	".env":     "dotenv",
	".txt":     "plaintext",
}

var filenameLanguages = map[string]string{
	"dockerfile":    "dockerfile",
	"makefile":      "makefile",
	".gitignore":    "ignore",
	".dockerignore": "ignore",
	"procfile":      "plaintext",
}

var mimeLanguages = map[string]string{
	"text/html":              "html",
	"application/json":       "json",
	"text/xml":               "xml",
	"application/xml":        "xml",
	"image/svg+xml":          "xml",
	"text/javascript":        "javascript",
	"application/javascript": "javascript",
	"text/x-python":          "python",
	"text/x-shellscript":     "shell",
	"text/x-php":             "php",
	"text/rtf":               "plaintext",
}

// InferLanguage picks a highlighting language for a file.
// Known extensions and filenames win; otherwise the content is sniffed.
func InferLanguage(p, content string) string {
	base := strings.ToLower(path.Base(p))
	if lang, ok := filenameLanguages[base]; ok {
		return lang
	}
	if strings.HasPrefix(base, ".env") {
		return "dotenv"
	}
	if lang, ok := extensionLanguages[strings.ToLower(path.Ext(base))]; ok {
		return lang
	}
	if content == "" {
		return "plaintext"
	}

	mt := mimetype.Detect([]byte(content))
	for m := mt; m != nil; m = m.Parent() {
		if lang, ok := mimeLanguages[strings.SplitN(m.String(), ";", 2)[0]]; ok {
			return lang
		}
	}
	return "plaintext"
}
