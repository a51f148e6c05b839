// Package filetype maps hints, file names and leading bytes to a MIME type.
package filetype

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Unknown is returned when nothing identifies the input.
const Unknown = "application/octet-stream"

// SniffLimit is how many leading bytes content detection inspects.
const SniffLimit = 3072

var byExtension = map[string]string{
	// documents
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroenabled.12",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".ppt":  "application/vnd.ms-powerpoint",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".epub": "application/epub+zip",
	".rtf":  "application/rtf",

	// text and markup
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".rst":      "text/x-rst",
	".html":     "text/html",
	".htm":      "text/html",
	".xhtml":    "application/xhtml+xml",
	".xml":      "application/xml",
	".csv":      "text/csv",
	".tsv":      "text/tab-separated-values",
	".json":     "application/json",
	".jsonl":    "application/x-ndjson",
	".ndjson":   "application/x-ndjson",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".toml":     "application/toml",
	".tex":      "application/x-latex",
	".latex":    "application/x-latex",
	".ipynb":    "application/x-ipynb+json",

	// images
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// Source files resolve to text/x-<language>.
var sourceExtensions = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".mjs": "javascript", ".cjs": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".jsx": "javascript", ".java": "java",
	".kt": "kotlin", ".kts": "kotlin", ".scala": "scala", ".rs": "rust", ".c": "c", ".h": "c",
	".cc": "cpp", ".cpp": "cpp", ".cxx": "cpp", ".hpp": "cpp", ".hh": "cpp", ".cs": "csharp",
	".rb": "ruby", ".php": "php", ".swift": "swift", ".m": "objective-c", ".mm": "objective-c",
	".sh": "shell", ".bash": "shell", ".zsh": "shell", ".ps1": "powershell", ".sql": "sql",
	".r": "r", ".lua": "lua", ".pl": "perl", ".dart": "dart", ".ex": "elixir", ".exs": "elixir",
	".erl": "erlang", ".hs": "haskell", ".clj": "clojure", ".vue": "vue", ".svelte": "svelte",
	".css": "css", ".scss": "scss", ".less": "less", ".proto": "protobuf", ".tf": "terraform",
	".gradle": "groovy", ".groovy": "groovy", ".zig": "zig", ".nim": "nim", ".jl": "julia",
}

var known map[string][]string

func init() {
	known = make(map[string][]string)
	for ext, mt := range byExtension {
		known[mt] = append(known[mt], ext)
	}
	for ext, lang := range sourceExtensions {
		mt := SourceType(lang)
		known[mt] = append(known[mt], ext)
	}
	for _, exts := range known {
		sort.Strings(exts)
	}
}

// SourceType is the MIME type used for source code in lang.
func SourceType(lang string) string {
	return "text/x-" + lang
}

// Known reports whether mimeType is a recognized identifier.
func Known(mimeType string) bool {
	_, ok := known[Normalize(mimeType)]
	return ok
}

// Extensions lists the extensions that map to mimeType.
func Extensions(mimeType string) []string {
	return append([]string(nil), known[Normalize(mimeType)]...)
}

// ByExtension looks up a type for ext (with or without the dot).
func ByExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if mt, ok := byExtension[ext]; ok {
		return mt
	}
	if lang, ok := sourceExtensions[ext]; ok {
		return SourceType(lang)
	}
	return ""
}

// Normalize lower-cases mimeType and strips parameters.
func Normalize(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// Sniff inspects the first SniffLimit bytes of data.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > SniffLimit {
		data = data[:SniffLimit]
	}
	return Normalize(mimetype.Detect(data).String())
}

// generic sniff results are too coarse to count as a disagreement.
var generic = map[string]bool{
	"text/plain":                true,
	"application/octet-stream":  true,
	"application/zip":           true,
	"application/x-ole-storage": true,
	"text/xml":                  true,
	"application/xml":           true,
}

// Resolve picks a MIME type for an input. A recognized hint is trusted
// outright; otherwise the file extension wins over content sniffing, and
// sniffing wins over unknown. It never fails.
func Resolve(hint, fileName string, data []byte) string {
	if h := Normalize(hint); h != "" && Known(h) {
		return h
	}

	fromExt := ByExtension(filepath.Ext(fileName))
	sniffed := Sniff(data)

	switch {
	case fromExt != "":
		return fromExt
	case sniffed != "" && sniffed != Unknown:
		return canonical(sniffed)
	}
	if h := Normalize(hint); h != "" && strings.Contains(h, "/") {
		return h
	}
	return Unknown
}

// Disagrees reports whether content sniffing contradicts the resolved type
// in a way worth logging.
func Disagrees(resolved string, data []byte) bool {
	sniffed := Sniff(data)
	return sniffed != "" && !generic[sniffed] && canonical(sniffed) != resolved
}

// canonical folds mimetype's aliases onto the identifiers used in the tables.
func canonical(mt string) string {
	switch mt {
	case "text/xml":
		return "application/xml"
	case "application/x-tex":
		return "application/x-latex"
	case "application/x-yaml", "text/yaml":
		return "application/yaml"
	}
	return mt
}

// SourceTypes lists the MIME types assigned to source code, sorted.
func SourceTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, lang := range sourceExtensions {
		if mt := SourceType(lang); !seen[mt] {
			seen[mt] = true
			out = append(out, mt)
		}
	}
	sort.Strings(out)
	return out
}

// KnownTypes lists every recognized MIME type, sorted.
func KnownTypes() []string {
	out := make([]string, 0, len(known))
	for mt := range known {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Language returns the language name of a text/x-<lang> source type.
func Language(mimeType string) string {
	mt := Normalize(mimeType)
	if !strings.HasPrefix(mt, "text/x-") {
		return ""
	}
	return strings.TrimPrefix(mt, "text/x-")
}
